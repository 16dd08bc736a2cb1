package library

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core matches exactly one of these
// with errors.Is.
var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced item, entry or account is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation would break an invariant.
	ErrConflict = errors.New("conflict")

	// ErrStore is returned when the underlying store fails.
	ErrStore = errors.New("store error")

	// ErrPermission is returned when the caller's role does not allow the operation.
	ErrPermission = errors.New("permission denied")
)

// Error carries the kind of failure together with the operation and entity
// that were involved.
type Error struct {
	Kind   error
	Op     string
	Entity string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Entity != "" {
		s += fmt.Sprintf(" [%s]", e.Entity)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func validationErr(op, entity, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Entity: entity, Msg: msg}
}

func notFoundErr(op, entity, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Entity: entity, Msg: msg}
}

func conflictErr(op, entity, msg string) error {
	return &Error{Kind: ErrConflict, Op: op, Entity: entity, Msg: msg}
}

func permissionErr(op string, role Role) error {
	return &Error{Kind: ErrPermission, Op: op, Msg: fmt.Sprintf("role %q may not perform this operation", role)}
}

// storeErr wraps a driver error. Errors that already carry a kind pass through.
func storeErr(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: ErrStore, Op: op, Entity: entity, Err: err}
}

func requireAdmin(op string, role Role) error {
	if role != RoleAdmin {
		return permissionErr(op, role)
	}
	return nil
}
