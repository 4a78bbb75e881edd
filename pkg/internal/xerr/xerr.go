// Package xerr provides a small typed-error base shared by pool and
// cognitive errors, generalizing the teacher's provider/errors idiom (one
// struct per error kind, each with Error()/Unwrap()/IsXError()) into one
// struct parameterised by a Kind so callers get errors.As/errors.Is support
// without repeating the same boilerplate per subsystem.
package xerr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of error within a subsystem's taxonomy. Each
// subsystem (pool, cognitive) defines its own Kind constants.
type Kind string

// Error is a typed error carrying a Kind, the operation that failed, a
// human message, and an optional underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind. This lets
// callers write errors.Is(err, &xerr.Error{Kind: pool.KindTimeout}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs an *Error for the given kind.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, returning ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
