// Package apperr holds the error taxonomy shared across the engine:
// storage sentinels and the validation error type. Expected business
// outcomes are distinguished with errors.Is/errors.As; anything else is a
// persistence failure surfaced generically.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an entity is no longer in the expected state:
// the caller lost a race or the transition is not legal from the current
// state. It is terminal for the losing caller and never retried.
var ErrConflict = errors.New("state conflict")

// ValidationError rejects malformed input before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
