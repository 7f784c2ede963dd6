package core

import (
	"errors"
	"fmt"
)

// Error categories returned by the series engine. Callers match them with
// errors.Is; the wrapped cause stays reachable as well.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence failure")
)

var (
	ErrInvalidDay           = invalid("invalid day")
	ErrInvalidMonth         = invalid("invalid month")
	ErrInvalidAmount        = invalid("invalid amount")
	ErrEmptyName            = invalid("empty name")
	ErrInvalidKind          = invalid("invalid kind")
	ErrInvalidRecurrence    = invalid("invalid recurrence")
	ErrRecurringInstallment = invalid("transaction cannot be both recurring and an installment")
	ErrInstallmentCount     = invalid("installment count must be between 2 and 36")
)

// invalid builds a validation sentinel that also matches ErrInvalidArgument.
func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

// Invalidf formats a one-off validation error matching ErrInvalidArgument.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// PersistenceError wraps a store failure so that it matches both
// ErrPersistence and the underlying cause.
func PersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
