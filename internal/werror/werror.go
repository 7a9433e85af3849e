// Package werror implements the worker's error taxonomy.
//
// The original Python worker models failures as a single exception
// hierarchy whose constructor is idempotent over wrapping: wrapping an
// already-fatal exception never downgrades it. We model the same thing
// as a tagged error with a Kind, and a Wrap combinator that preserves
// Fatal no matter how many times it's re-wrapped.
package werror

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Transport indicates a network or HTTP-level failure. Callers may
	// retry where documented.
	Transport Kind = iota
	// Run indicates a specific task cannot be completed (wrong bench,
	// unclean match, invalid engine option). Surfaced to the coordinator
	// as a task failure.
	Run
	// Build indicates a source build failed. Always surfaced as Run to
	// the task's caller.
	Build
	// Fatal indicates the worker itself cannot continue (another
	// instance detected, host too slow). Never retried.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Run:
		return "run"
	case Build:
		return "build"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a worker error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps inner under kind, unless inner is already a Fatal Error, in
// which case the Fatal-ness is preserved regardless of the requested kind.
// This mirrors the original WorkerException.__new__, which returns the
// inner exception unchanged when it is already fatal.
func Wrap(kind Kind, msg string, inner error) error {
	if we, ok := inner.(*Error); ok && we.Kind == Fatal {
		return we
	}
	return &Error{Kind: kind, Msg: msg, Err: inner}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var we *Error
	if !errors.As(err, &we) {
		return 0, false
	}
	return we.Kind, true
}

// IsFatal returns true if err is a Fatal worker error.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Fatal
}

// Runf is a convenience constructor for a Run-kind error.
func Runf(format string, args ...interface{}) *Error { return New(Run, format, args...) }

// Fatalf is a convenience constructor for a Fatal-kind error.
func Fatalf(format string, args ...interface{}) *Error { return New(Fatal, format, args...) }

// Transportf is a convenience constructor for a Transport-kind error.
func Transportf(format string, args ...interface{}) *Error { return New(Transport, format, args...) }
