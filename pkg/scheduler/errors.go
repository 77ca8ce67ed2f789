package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid task definition")

	// ErrInvalidInterval is returned by Run when the poll interval is not positive.
	ErrInvalidInterval = errors.New("poll interval must be positive")
)

// ValidationError names the field that made a task definition invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PanicError is reported when a task callback panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
