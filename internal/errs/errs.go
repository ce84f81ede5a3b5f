// Package errs defines the error taxonomy shared by every graffiti component.
//
// Every user-visible failure is an *Error with a Kind. Only Detail(err) is
// ever sent to clients; anything outside the taxonomy is reported as an
// internal error so raw driver messages never leak.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes errors.
type Kind string

const (
	// KindValidation marks a malformed query or object. Nothing changed.
	KindValidation Kind = "VALIDATION"

	// KindAuthorization marks an operation on a connection, subscription,
	// or object the caller does not own. Nothing changed.
	KindAuthorization Kind = "AUTHORIZATION"

	// KindConflict marks a replace/delete whose target is missing, already
	// tombstoned, or was concurrently replaced.
	KindConflict Kind = "CONFLICT"

	// KindTransient marks store or transport unavailability. Retrying is
	// the caller's job, not the broker's.
	KindTransient Kind = "TRANSIENT"
)

// Error is a categorized failure with a client-safe detail message.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Detail is the human-readable, client-safe description.
	Detail string

	// Err is the underlying cause, if any. Never shown to clients.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// Authorization creates a KindAuthorization error.
func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Detail: fmt.Sprintf(format, args...)}
}

// Conflict creates a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}

// Transient wraps an I/O failure as a KindTransient error.
func Transient(detail string, err error) *Error {
	return &Error{Kind: KindTransient, Detail: detail, Err: err}
}

// KindOf returns the Kind of err, or "" when err is outside the taxonomy.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuthorization returns true if err is an authorization error.
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsTransient returns true if err is a transient I/O error.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// Detail returns the client-safe message for err.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindTransient {
			return "temporarily unavailable: " + e.Detail
		}
		return e.Detail
	}
	return "internal error"
}
