package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation marks a call the render layer can never produce
	// through normal use, like toggling a value on a range facet.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrStaleResponse is returned internally for responses that belong to a
	// superseded query state. It is never shown to the user.
	ErrStaleResponse     = errors.New("stale response")
	ErrUnknownCategory   = errors.New("unknown category")
	ErrDuplicateCategory = errors.New("duplicate category name")
)

type NetworkError struct {
	Op     string
	Url    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: http %d", e.Op, e.Url, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Url, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func InvalidOperation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}
