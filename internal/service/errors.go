package service

import (
	"errors"
	"fmt"

	"example.com/backstage/services/resource/internal/validation"
)

// Domain errors surfaced by ResourceService.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrVersionConflict      = errors.New("Resource was modified by another transaction. Please refresh and try again.")
	ErrIntegrityViolation   = errors.New("Data integrity constraint violation")
	ErrTransportUnavailable = errors.New("event transport unavailable")
)

// NotFoundError names the missing resource.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Resource not found with id: %d", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError carries every rule a request violated.
type ValidationError struct {
	Violations []validation.Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation failed: %d violation(s)", len(e.Violations))
}
