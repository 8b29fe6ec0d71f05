// Package errors defines the error taxonomy of the realtime core.
// Validation and authorization failures are recovered locally and reported
// only to the originating connection; persistence failures abort the single
// failing operation and leave the connection usable.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication rejects a handshake before any event is processed.
	ErrAuthentication = fmt.Errorf("authentication failed")
	// ErrAuthorization rejects a non-member send or join attempt.
	ErrAuthorization = fmt.Errorf("not a conversation participant")
	// ErrValidation rejects empty or missing required fields.
	ErrValidation = fmt.Errorf("invalid request")
	// ErrPersistence wraps a storage failure during send or read-state update.
	ErrPersistence = fmt.Errorf("storage failure")
	// ErrNotFound signals an operation on a missing message or user.
	ErrNotFound = fmt.Errorf("not found")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// Code maps an error to the stable code carried by error frames on the wire.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrAuthorization):
		return "authorization_error"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}

// Validationf builds a field-level validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage error while keeping the taxonomy sentinel.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// Is re-exports errors.Is so callers don't need to import both packages.
func Is(err, target error) bool { return errors.Is(err, target) }
