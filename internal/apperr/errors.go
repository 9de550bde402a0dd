package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a service wraps exactly one of these.
var (
	// ErrAuthDomainRejected: the email is outside the allowed domain and not an administrator.
	ErrAuthDomainRejected = errors.New("email is not allowed to sign in")
	// ErrAuthProviderFailure: the identity provider refused or could not verify the sign-in.
	ErrAuthProviderFailure = errors.New("identity provider sign-in failed")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrForbidden           = errors.New("permission denied")

	ErrRecordNotFound = errors.New("record not found")
	ErrWriteFailure   = errors.New("write failed")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")

	// ErrInvalidTransition: the entry is in a terminal status that does not allow the action.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPartialReconciliation: a student's hour total disagrees with the approved ledger entries.
	ErrPartialReconciliation = errors.New("hour total does not match approved entries")
)

// Error carries a kind, a user-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Message != "":
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	case e.Message != "":
		return e.Message
	case e.Cause != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrRecordNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...any) error {
	return &Error{Kind: ErrInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// Write wraps a store error raised by op. Errors that already carry a kind are
// returned unchanged so a not-found inside a transaction stays a not-found.
func Write(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var known *Error
	if errors.As(cause, &known) {
		return cause
	}
	return &Error{Kind: ErrWriteFailure, Message: op, Cause: cause}
}

// Message returns the user-facing message of err, falling back to its text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
