package sandbox

import "errors"

var (
	// ErrOutputLimit is returned to plugin code once its output budget is spent.
	ErrOutputLimit = errors.New("output limit exceeded")

	// ErrFileRateLimit is returned when file operations exceed their rate.
	ErrFileRateLimit = errors.New("file operation rate exceeded")

	// ErrFileTooLarge is returned when a write would exceed the file size limit.
	ErrFileTooLarge = errors.New("file size limit exceeded")
)
