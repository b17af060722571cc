package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the input video path does not exist.
// Raised before any resource is acquired.
var ErrNotFound = errors.New("video file not found")

// ValidationError marks input that was readable but unusable: a video
// with no audio track, or an unrecognized model identifier.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// UnexpectedError wraps any other failure during model load, audio
// export, or transcription. The original error is logged with full
// context before wrapping; callers see the stage and a generic message.
type UnexpectedError struct {
	Stage string
	Err   error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected failure during %s: %v", e.Stage, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is the missing-input failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnexpected reports whether err is a wrapped unexpected failure.
func IsUnexpected(err error) bool {
	var ue *UnexpectedError
	return errors.As(err, &ue)
}

// ErrorKind classifies err for callers that key messaging off the
// failure kind: "not_found", "validation", "unexpected", or "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return "not_found"
	case IsValidation(err):
		return "validation"
	default:
		return "unexpected"
	}
}
