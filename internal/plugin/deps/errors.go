package deps

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpec is returned for dependency specifiers that cannot be parsed.
	ErrInvalidSpec = errors.New("invalid dependency spec")

	// ErrInvalidVersion is returned when a version or range cannot be compared.
	ErrInvalidVersion = errors.New("invalid version")
)

// DependencyError records one package that could not be installed.
type DependencyError struct {
	Spec string
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Spec, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
