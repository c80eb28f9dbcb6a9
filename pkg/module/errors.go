package module

import (
	"errors"
	"fmt"
)

var (
	// ErrCreateModule is returned when a factory cannot produce a Module.
	ErrCreateModule = errors.New("module creation failed")

	// ErrInvalidInfo is returned when a module descriptor is malformed.
	ErrInvalidInfo = errors.New("invalid module info")

	// ErrDuplicateItem is returned when an item name is declared twice.
	ErrDuplicateItem = errors.New("duplicate module item")

	// ErrInvalidAccelerator is returned for unparsable accelerator strings.
	ErrInvalidAccelerator = errors.New("invalid accelerator")
)

// CreateError reports a module instantiation failure.
type CreateError struct {
	Module string
	Cause  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create module %q: %v", e.Module, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CreateError) Unwrap() error { return e.Cause }

// Is lets errors.Is match ErrCreateModule.
func (e *CreateError) Is(target error) bool { return target == ErrCreateModule }
