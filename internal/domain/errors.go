package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during evaluation operations.
var (
	// ErrInvalidPhase indicates that a phase selector is outside 1..4.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrInvalidLevel indicates that a performance level is outside 1..4.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrSubScoreOutOfRange indicates that a criterion sub-score is outside [0,100].
	ErrSubScoreOutOfRange = errors.New("sub-score out of range")

	// ErrEmptyResponseSet indicates that an evaluation was requested for no answers.
	ErrEmptyResponseSet = errors.New("empty response set")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures and is never worth retrying.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string

	// Err optionally carries the sentinel that classifies the failure.
	Err error
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap returns the classifying sentinel, if any.
func (e *ValidationError) Unwrap() error { return e.Err }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// IsRetryable always reports false; bad input does not get better on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// newValidationErrorf builds a single-message ValidationError wrapping sentinel.
func newValidationErrorf(entity string, sentinel error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: []string{fmt.Sprintf(format, args...)},
		Err:    sentinel,
	}
}
