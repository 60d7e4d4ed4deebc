package transport

import (
	"errors"
	"fmt"
)

// Reason classifies a FileError.
type Reason string

const (
	ReasonNotFound         Reason = "not-found"
	ReasonTooLarge         Reason = "too-large"
	ReasonInvalidExtension Reason = "invalid-extension"
	ReasonMalformedContent Reason = "malformed-content"
	ReasonLocked           Reason = "locked"
)

// FileError is fatal to the file it names but never to the whole cycle.
type FileError struct {
	Reason Reason
	File   string
	Err    error
}

func (e *FileError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("file %s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("file %s: %s: %v", e.File, e.Reason, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// IsReason reports whether err is a FileError with the given reason.
func IsReason(err error, reason Reason) bool {
	var fe *FileError
	return errors.As(err, &fe) && fe.Reason == reason
}

// errReadLimit is returned by drivers when a file exceeds the read limit.
var errReadLimit = errors.New("read limit exceeded")
