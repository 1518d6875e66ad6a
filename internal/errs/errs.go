// Package errs defines the error kinds used across mailgate and wraps
// them with eris so errors crossing component boundaries carry a stack
// trace.
package errs

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind categorizes an error for handling and HTTP status mapping.
type Kind string

const (
	Transport       Kind = "transport"
	Auth            Kind = "auth"
	Parse           Kind = "parse"
	Storage         Kind = "storage"
	RuleEvaluation  Kind = "rule_evaluation"
	Validation      Kind = "validation"
	Configuration   Kind = "configuration"
	NotFound        Kind = "not_found"
)

// Error is a typed, eris-wrapped error.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// New wraps msg as a fresh error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{kind: k, err: eris.New(msg)}
}

// Wrap attaches kind and an eris stack trace to an existing error.
func Wrap(k Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: k, err: eris.Wrap(err, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(k Kind, err error, format string, args ...any) *Error {
	return Wrap(k, err, fmt.Sprintf(format, args...))
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == k
	}
	return false
}
