// Package apperr defines the error taxonomy shared by the enrollment, matching and
// login components. Callers branch with errors.Is and errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Biometric and login errors.
var (
	ErrNotEnrolled        = errors.New("identity not enrolled")
	ErrMatchFailed        = errors.New("face did not match")
	ErrLockout            = errors.New("too many failed attempts, try again later")
	ErrInvalidDescriptor  = errors.New("invalid descriptor")
	ErrNoFaceDetected     = errors.New("no face detected")
	ErrLowQuality         = errors.New("capture quality too low")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrPermissionDenied   = errors.New("capture permission denied")
)

// Second factor errors.
var (
	ErrOTPExpired   = errors.New("one-time passcode expired")
	ErrOTPExhausted = errors.New("one-time passcode attempts exhausted")
	ErrOTPInvalid   = errors.New("invalid one-time passcode")
)

// State and lookup errors.
var (
	ErrAttemptNotFound   = errors.New("login attempt not found")
	ErrAttemptExpired    = errors.New("login attempt expired")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrSessionNotFound   = errors.New("session not found")
	ErrIdentityNotFound  = errors.New("identity not found")

	// ErrDuplicate is returned by stores when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("duplicate value")
)

// ValidationError reports user-correctable input problems. The message is safe to
// show to the caller verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StorageError wraps a persistence failure. Storage failures are fatal for the
// current operation and must be retried by the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether the operation may be retried.
func (e *StorageError) Retryable() bool { return true }

// Storage wraps err as a StorageError. It returns nil for a nil err.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether err carries a retryable failure.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
