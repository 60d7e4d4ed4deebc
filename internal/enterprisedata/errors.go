package enterprisedata

import "fmt"

// ParseReason classifies why a document was refused.
type ParseReason string

const (
	ReasonNotWellFormed ParseReason = "not-well-formed"
	ReasonSizeExceeded  ParseReason = "size-exceeded"
	ReasonHeaderMissing ParseReason = "header-missing"
)

// ParseError is returned by Parse. It is fatal to the file it came from.
type ParseError struct {
	Reason ParseReason
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse message: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// GenerateReason classifies why an outbound document could not be produced.
type GenerateReason string

const (
	ReasonOutputTooLarge  GenerateReason = "size-exceeded"
	ReasonSelfCheckFailed GenerateReason = "self-check-failed"
	ReasonInvalidHeader   GenerateReason = "invalid-header"
)

// GenerateError is returned by Generate. It is fatal to that generation attempt.
type GenerateError struct {
	Reason GenerateReason
	Err    error
}

func (e *GenerateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generate message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generate message: %s", e.Reason)
}

func (e *GenerateError) Unwrap() error { return e.Err }
