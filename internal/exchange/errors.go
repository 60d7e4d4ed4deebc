package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmskTV/advPlanner-sub000/internal/txn"
)

// MappingError wraps an unexpected failure while dispatching one object with
// enough context to find it again in the source message.
type MappingError struct {
	ObjectType string
	Ref        string
	Err        error
}

func (e *MappingError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s: %v", e.ObjectType, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.ObjectType, e.Ref, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// isFatal reports errors that leave the surrounding transaction unusable.
func isFatal(err error) bool {
	var savepointErr *txn.SavepointError
	return errors.As(err, &savepointErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
