package backend

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrRoomNotFound is what a room view sees when its debate cannot be fetched.
	ErrRoomNotFound = errors.New("room not found")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Msg may carry human-readable context; never secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness or state conflict on a logical field.
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row. A missing debate also matches ErrRoomNotFound.
type NotFoundError struct {
	Op       string
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
	}
	return fmt.Sprintf("%s: %v: %s %q", e.Op, ErrNotFound, e.Resource, e.ID)
}

func (e NotFoundError) Unwrap() []error {
	if e.Resource == "debate" {
		return []error{ErrNotFound, ErrRoomNotFound}
	}
	return []error{ErrNotFound}
}

func debateNotFound(op, id string) error {
	return NotFoundError{Op: op, Resource: "debate", ID: id}
}

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
