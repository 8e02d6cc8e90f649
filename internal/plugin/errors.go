package plugin

import (
	"errors"
	"fmt"
	"time"
)

// Analysis errors.
var (
	// ErrUnsupportedFormat is returned for artifacts with an unrecognized extension.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrMalformedManifest is returned when a manifest or project descriptor cannot be parsed.
	ErrMalformedManifest = errors.New("malformed manifest")

	// ErrNoSourceDetected is returned when an archive holds no recognizable plugin.
	ErrNoSourceDetected = errors.New("no plugin source detected")
)

// Load errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint is returned when a plugin has no execute function.
	ErrNoEntryPoint = errors.New("plugin has no entry point (execute)")

	// ErrImportFailure is returned when the entry source cannot be read or compiled.
	ErrImportFailure = errors.New("plugin import failed")
)

// Validation and execution errors.
var (
	// ErrForbiddenImport is returned when entry code imports a deny-listed module.
	ErrForbiddenImport = errors.New("forbidden import")

	// ErrForbiddenCall is returned when entry code calls a deny-listed function.
	ErrForbiddenCall = errors.New("forbidden call")

	// ErrExecution wraps an error raised by the plugin itself.
	ErrExecution = errors.New("plugin execution failed")

	// ErrTimeout is returned when an execution exceeds its deadline.
	ErrTimeout = errors.New("plugin execution timed out")

	// ErrInvalidTransition is returned for lifecycle changes the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// AnalysisError reports why an artifact could not be turned into a descriptor.
// Kind is one of ErrUnsupportedFormat, ErrMalformedManifest or ErrNoSourceDetected.
type AnalysisError struct {
	Kind error
	Path string
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analyze %s: %v: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("analyze %s: %v", e.Path, e.Kind)
}

func (e *AnalysisError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// LoadError reports a failure to resolve or import a plugin.
// Kind is one of ErrPluginNotFound, ErrNoEntryPoint or ErrImportFailure.
type LoadError struct {
	Kind     error
	PluginID string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %q: %v: %v", e.PluginID, e.Kind, e.Err)
	}
	return fmt.Sprintf("plugin %q: %v", e.PluginID, e.Kind)
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ValidationError is returned by static validation. Execution is refused
// before any plugin code runs.
type ValidationError struct {
	Kind error // ErrForbiddenImport or ErrForbiddenCall
	Name string
	Line int
}

func (e *ValidationError) Error() string {
	return e.Reason()
}

// Reason returns the user-facing refusal message, e.g. "Forbidden import: os".
func (e *ValidationError) Reason() string {
	switch e.Kind {
	case ErrForbiddenImport:
		return "Forbidden import: " + e.Name
	case ErrForbiddenCall:
		return "Forbidden call: " + e.Name
	default:
		return fmt.Sprintf("%v: %s", e.Kind, e.Name)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// ExecutionError carries the error raised by the plugin's own code.
type ExecutionError struct {
	PluginID string
	Message  string
	Err      error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExecution}
	}
	return []error{ErrExecution, e.Err}
}

// TimeoutError is returned when an execution does not finish within its deadline.
type TimeoutError struct {
	PluginID string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("plugin %q exceeded deadline of %s", e.PluginID, e.Deadline)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
