package engine

import (
	"errors"
	"fmt"

	"journalflow/internal/repo"
)

var (
	// ErrConflict marks operations rejected because of the current state.
	ErrConflict = errors.New("state conflict")
	// ErrInvalid marks malformed requests.
	ErrInvalid = errors.New("invalid request")
)

// NotFoundError reports a missing article, round or task.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return repo.ErrNotFound }

// ConflictError reports an operation that is not permitted in the current
// state.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string { return e.Op + ": " + e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string { return e.Field + ": " + e.Reason }

func (e *InvalidError) Unwrap() error { return ErrInvalid }

func conflict(op, format string, args ...any) error {
	return &ConflictError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func invalid(field, format string, args ...any) error {
	return &InvalidError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// notFound converts repo.ErrNotFound into a typed NotFoundError.
func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}
