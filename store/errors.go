package store

import (
	"errors"
	"fmt"

	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/cyp0633/localcal/store/temporal"
)

// Error types
type ErrorType string

const (
	ErrValidation            ErrorType = "validation"
	ErrNotFound              ErrorType = "not_found"
	ErrInvalidRecurrenceRule ErrorType = "invalid_recurrence_rule"
	ErrParse                 ErrorType = "parse"
	ErrIncompatibleKind      ErrorType = "incompatible_temporal_kind"
)

// Error is returned by every store and expander operation.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(t ErrorType, err error, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsType reports whether err is a store *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

func IsNotFound(err error) bool   { return IsType(err, ErrNotFound) }
func IsValidation(err error) bool { return IsType(err, ErrValidation) }
func IsParse(err error) bool      { return IsType(err, ErrParse) }

// classify maps errors of the temporal and recurrence packages onto store
// error types. Store errors pass through unchanged.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, recurrence.ErrInvalidRule):
		return newError(ErrInvalidRecurrenceRule, err, format, args...)
	case errors.Is(err, temporal.ErrIncompatibleKind):
		return newError(ErrIncompatibleKind, err, format, args...)
	default:
		return newError(ErrValidation, err, format, args...)
	}
}
