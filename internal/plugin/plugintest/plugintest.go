// Package plugintest provides in-memory fakes for runtime and sandbox tests.
package plugintest

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/plugforge/internal/plugin"
)

// MemFiles is an in-memory plugin.FileAccess. Names containing ".." are
// rejected on write, like the scoped file access.
type MemFiles struct {
	mu    sync.Mutex
	Files map[string][]byte
}

// NewMemFiles returns an empty MemFiles.
func NewMemFiles() *MemFiles {
	return &MemFiles{Files: make(map[string][]byte)}
}

func (m *MemFiles) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *MemFiles) WriteFile(name string, data []byte) error {
	if strings.Contains(name, "..") {
		return errors.New("path outside workspace")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemFiles) AppendFile(name string, data []byte) error {
	if strings.Contains(name, "..") {
		return errors.New("path outside workspace")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[name] = append(m.Files[name], data...)
	return nil
}

func (m *MemFiles) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Files, name)
	return nil
}

func (m *MemFiles) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Files[name]
	return ok
}

func (m *MemFiles) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemFiles) Dir() string { return "/tmp/sandbox_test" }

// Lines records every Write as one output line.
type Lines []string

func (l *Lines) Write(p []byte) (int, error) {
	*l = append(*l, string(p))
	return len(p), nil
}

// NewEnv returns an Env for plugin "demo" run by user "u1" with input
// {"text": "hello world"}.
func NewEnv() (*plugin.Env, *MemFiles, *Lines) {
	files := NewMemFiles()
	out := &Lines{}
	return &plugin.Env{
		Context: plugin.ExecutionContext{
			UserID:    "u1",
			PluginID:  "demo",
			Input:     map[string]any{"text": "hello world"},
			Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Files:  files,
		Output: out,
	}, files, out
}
