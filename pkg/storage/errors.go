package storage

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure into the taxonomy the API surface
// maps to HTTP status codes.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindConflictingState   Kind = "ConflictingState"
	KindConstraintViolation Kind = "ConstraintViolation"
	KindTransientBackend   Kind = "TransientBackend"
	KindUnavailable        Kind = "Unavailable"
	KindInternal           Kind = "Internal"
)

// Error wraps an underlying driver error with a Kind from the taxonomy.
type Error struct {
	Kind Kind
	Op   string // operation being performed, e.g. "jobs.Create"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a tagged storage error.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a NotFound storage error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflictingState reports whether err is a ConflictingState storage error.
func IsConflictingState(err error) bool { return KindOf(err) == KindConflictingState }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return KindOf(err) == KindTransientBackend }
