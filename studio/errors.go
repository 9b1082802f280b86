/*
errors.go - Typed error kinds for every engine operation

PURPOSE:
  Every operation surfaces one of four kinds so callers can branch on the
  category without string matching:

    NotFound            training/student/subscription/invoice absent
    Conflict            duplicate template slot, capacity exceeded,
                        already-registered student, unique violations
    PreconditionFailed  subscription required but absent/exhausted,
                        freezing a frozen subscription, illegal transition
    Validation          malformed dates, times, amounts

USAGE:
  if errors.Is(err, studio.ErrNotFound) { ... }

  var se *studio.Error
  if errors.As(err, &se) { log(se.Entity, se.ID) }

SEE ALSO:
  - store.go: stores return NotFound/Conflict directly
  - api/handlers.go: maps kinds to HTTP status codes
*/
package studio

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrValidation         = errors.New("validation failed")
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition_failed"
	KindValidation   Kind = "validation"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error carries the kind plus the entity it is about.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.ID != "":
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Entity, e.Message)
	default:
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Unwrap())
	}
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindPrecondition:
		return ErrPreconditionFailed
	default:
		return ErrValidation
	}
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func Conflict(entity, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func Precondition(entity, format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func Invalid(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Entity: field, Message: fmt.Sprintf(format, args...)}
}

// WithID attaches the offending entity id.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of a typed error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError returns true if the error is due to the caller's input or
// the current state of the studio rather than a broken store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrValidation)
}
