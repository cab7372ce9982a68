package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the stream package. Callers should match them
// with errors.Is; most are wrapped with additional context.
var (
	// ErrOpenFailed is returned when a resource could not be opened: the
	// capability probe rejected the URL, the provider failed the open, or the
	// job completed with an error before it ever reported itself opened.
	ErrOpenFailed = errors.New("open failed")

	// ErrDispatchUnavailable is returned when the dispatcher loop has been
	// stopped and can no longer run provider operations.
	ErrDispatchUnavailable = errors.New("dispatcher unavailable")

	// ErrUnsupported is returned for control queries with no implementation.
	ErrUnsupported = errors.New("unsupported query")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotOpen is returned by reads and seeks issued before Open succeeded.
	ErrNotOpen = errors.New("session not open")

	// ErrJobCompleted is returned when seeking a job the provider already
	// completed. A job that only reached natural end-of-stream stays seekable.
	ErrJobCompleted = errors.New("job completed")
)

// JobError is the error a provider reports through Events.Completed.
//
// It is recorded on the session for diagnostics only; readers observe the
// failure as a clean end-of-stream.
type JobError struct {
	// Code is a provider specific error code (HTTP status, errno, ...).
	// Zero when the provider has no code to offer.
	Code int

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *JobError) Error() string {
	switch {
	case e.Code != 0 && e.Err != nil:
		return fmt.Sprintf("job error %d: %s: %v", e.Code, e.Message, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("job error %d: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("job error: %s: %v", e.Message, e.Err)
	default:
		return "job error: " + e.Message
	}
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError builds a JobError from a code and a cause.
func NewJobError(code int, msg string, err error) *JobError {
	return &JobError{Code: code, Message: msg, Err: err}
}

// asJobError normalizes any provider error into a *JobError.
func asJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return &JobError{Message: err.Error(), Err: err}
}
