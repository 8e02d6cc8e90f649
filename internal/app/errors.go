package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization indicates an initialization failure.
	ErrInitialization = errors.New("initialization failed")

	// ErrNotApproved is returned when installing a plugin that has not been
	// approved.
	ErrNotApproved = errors.New("plugin not approved")

	// ErrNotRunnable is returned when running a plugin whose lifecycle state
	// forbids execution.
	ErrNotRunnable = errors.New("plugin not runnable")

	// ErrNoInstaller is returned for languages without a package ecosystem.
	ErrNoInstaller = errors.New("no package installer for language")
)

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Is matches ErrInitialization.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}

// OperationError reports a failed lifecycle operation on one plugin.
type OperationError struct {
	Op       string // install, approve, run, ...
	PluginID string
	Err      error
}

func (e *OperationError) Error() string {
	if e.PluginID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.PluginID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
