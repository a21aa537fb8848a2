package dbtypes

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input.  Nothing has been written when it is
	// returned.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown regimen or adherence record.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a lost race at the storage boundary: a duplicate key
	// or a concurrent modification.
	ErrConflict = errors.New("conflict")
)

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
