package plugin

import (
	"context"
	"io"
	"time"
)

// Attachment is a file handed to a plugin invocation.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// ExecutionContext is the per-invocation input. It is never persisted.
type ExecutionContext struct {
	UserID     string
	PluginID   string
	Input      map[string]any
	Files      []Attachment
	Credential string
	Timestamp  time.Time
}

// Map returns the representation handed to plugin code.
func (c ExecutionContext) Map() map[string]any {
	files := make([]any, 0, len(c.Files))
	for _, f := range c.Files {
		files = append(files, map[string]any{
			"name":         f.Name,
			"content_type": f.ContentType,
			"data":         string(f.Data),
		})
	}
	input := c.Input
	if input == nil {
		input = map[string]any{}
	}
	m := map[string]any{
		"user_id":   c.UserID,
		"plugin_id": c.PluginID,
		"input":     input,
		"files":     files,
		"timestamp": c.Timestamp.UTC().Format(time.RFC3339),
	}
	if c.Credential != "" {
		m["api_key"] = c.Credential
	}
	return m
}

// ExecutionResult is the outcome surfaced to callers. Payload and Error are
// mutually exclusive.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status is the outcome recorded in the execution log.
type Status string

// Execution statuses.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// ExecutionRecord is one line of the execution log.
type ExecutionRecord struct {
	PluginID  string    `json:"plugin_id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	Error     *string   `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceInfo is what a syntax walk learns about entry code.
type SourceInfo struct {
	// Constants holds top-level string constants (PLUGIN_NAME etc.).
	Constants map[string]string

	// Imports lists every required module name in source order, deduplicated.
	Imports []string

	// Calls lists called function names (last path component), deduplicated.
	Calls []string

	// Functions lists top-level function names.
	Functions []string

	// Lines maps an import or call name to the first line it appears on.
	Lines map[string]int
}

// DynamicImport is recorded in place of a module name when a require
// target cannot be read from the source, such as require passed around as
// a value or called with a computed name.
const DynamicImport = "dynamic require"

// NewSourceInfo returns an empty SourceInfo.
func NewSourceInfo() *SourceInfo {
	return &SourceInfo{
		Constants: make(map[string]string),
		Lines:     make(map[string]int),
	}
}

// AddImport records a module reference once.
func (s *SourceInfo) AddImport(name string, line int) {
	key := "import:" + name
	if _, seen := s.Lines[key]; seen {
		return
	}
	s.Lines[key] = line
	s.Imports = append(s.Imports, name)
}

// AddCall records a call target once.
func (s *SourceInfo) AddCall(name string, line int) {
	key := "call:" + name
	if _, seen := s.Lines[key]; seen {
		return
	}
	s.Lines[key] = line
	s.Calls = append(s.Calls, name)
}

// AddFunction records a top-level function name.
func (s *SourceInfo) AddFunction(name string) {
	for _, f := range s.Functions {
		if f == name {
			return
		}
	}
	s.Functions = append(s.Functions, name)
}

// HasFunction reports whether a top-level function was declared.
func (s *SourceInfo) HasFunction(name string) bool {
	for _, f := range s.Functions {
		if f == name {
			return true
		}
	}
	return false
}

// EntryFunction is the function every executable plugin must declare.
const EntryFunction = "execute"

// FileAccess is the scoped file capability injected into a run.
// Names are relative to the invocation's temporary directory.
type FileAccess interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	AppendFile(name string, data []byte) error
	Remove(name string) error
	Exists(name string) bool
	List() ([]string, error)
	Dir() string
}

// Env is everything a single run may touch.
type Env struct {
	Context ExecutionContext
	Files   FileAccess
	Output  io.Writer // one Write per output line
}

// ContextMap returns the context value handed to the entry function,
// including temp_dir when file access is available.
func (e *Env) ContextMap() map[string]any {
	m := e.Context.Map()
	if e.Files != nil {
		m["temp_dir"] = e.Files.Dir()
	}
	return m
}

// Program is compiled entry code. Each Run uses a fresh runtime and must stop
// promptly once ctx is done.
type Program interface {
	Language() Language
	Run(ctx context.Context, env *Env) (any, error)
}
