package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling at the boundary.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure
	UnauthorizedError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateJob marks an assistant turn that already exists for a job ID.
	// Callers treat it as an idempotent no-op, never as a failure.
	ErrDuplicateJob = errors.New("assistant turn already committed for job")

	// ErrJobTimeout is returned when the ingress side stops waiting for a
	// result because the job-level budget ran out.
	ErrJobTimeout = errors.New("generation job timed out")

	// ErrJobDeadLettered is returned when a job exhausted its redelivery
	// attempts and was parked on the dead-letter stream.
	ErrJobDeadLettered = errors.New("generation job dead-lettered")

	// ErrResultAbandoned marks a result that arrived after the requester
	// stopped waiting. Such results are discarded, never delivered.
	ErrResultAbandoned = errors.New("result arrived after requester gave up")
)

// TransientError wraps a model or infrastructure failure that is worth
// retrying at the layer owning the resource.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PermanentError wraps a failure that retrying cannot fix. It propagates
// to the requester immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DeliveryError indicates the externally visible send failed. Nothing is
// committed when this is returned; the model result is discarded.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to channel %s failed: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) StatusCode() int { return http.StatusBadGateway }
