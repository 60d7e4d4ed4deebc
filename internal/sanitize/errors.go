package sanitize

import "fmt"

// Reason classifies why an object was refused.
type Reason string

const (
	ReasonDangerousContent Reason = "dangerous-content"
	ReasonDepthExceeded    Reason = "depth-exceeded"
)

// RejectError is raised when an object cannot cross the trust boundary.
type RejectError struct {
	Reason Reason
	// Path locates the offending value, e.g. "Банк.Наименование".
	Path   string
	Detail string
}

func (e *RejectError) Error() string {
	msg := fmt.Sprintf("object rejected (%s)", e.Reason)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
