// Package store implements the mirror-database persistence layer on top of
// sqlx: scenes with their files, markers and relations, the shared
// performer/tag/studio entities, analysis plans, the job queue, and sync
// history.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrPlanApplied is returned when attempting to delete or mutate a
	// plan that has already been applied.
	ErrPlanApplied = errors.New("plan already applied")

	// ErrChangeApplied is returned when attempting to mutate a change
	// that has already been applied. Applied changes are immutable.
	ErrChangeApplied = errors.New("change already applied")

	// ErrInvalidTransition is returned for disallowed status transitions.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoJobsAvailable is returned by ClaimNext when the queue is empty.
	ErrNoJobsAvailable = errors.New("no pending jobs available")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
