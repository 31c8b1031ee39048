// Package apperr defines the typed failures surfaced by the enrollment engine.
//
// Every failure carries a stable Kind that callers switch on and a
// human-readable message. Kinds are business outcomes except Unavailable,
// which reports a store fault that survived the adapter's retries.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	KindUnknown           Kind = "UNKNOWN"
	KindNotFound          Kind = "NOT_FOUND"
	KindNotRegistered     Kind = "NOT_REGISTERED"
	KindForbidden         Kind = "FORBIDDEN"
	KindCapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindExpired           Kind = "EXPIRED"
	KindUnavailable       Kind = "UNAVAILABLE"
)

// Error is a failure with a stable kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the message of the first *Error in err's chain, or
// err.Error() when there is none.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
