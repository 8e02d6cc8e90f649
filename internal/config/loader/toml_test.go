package loader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/plugforge.toml", `
[paths]
pluginsDir = "/srv/plugins"

[sandbox]
enabled = false
timeout = "10s"
maxOutputSize = 2048
`)

	config, err := NewTOMLLoaderWithFS(memfs, "/plugforge.toml").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	paths, ok := config["paths"].(map[string]any)
	if !ok {
		t.Fatal("expected paths to be a map")
	}
	if paths["pluginsDir"] != "/srv/plugins" {
		t.Errorf("pluginsDir = %v", paths["pluginsDir"])
	}

	sandbox, ok := config["sandbox"].(map[string]any)
	if !ok {
		t.Fatal("expected sandbox to be a map")
	}
	if sandbox["enabled"] != false || sandbox["timeout"] != "10s" {
		t.Errorf("sandbox = %v", sandbox)
	}
	if sandbox["maxOutputSize"] != int64(2048) {
		t.Errorf("maxOutputSize = %v (%T), want 2048", sandbox["maxOutputSize"], sandbox["maxOutputSize"])
	}
}

func TestTOMLLoader_LoadNonExistent(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(NewMemFS(), "/nonexistent.toml").Load()
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got: %v", err)
	}
	if config != nil {
		t.Error("expected nil config for non-existent file")
	}
}

func TestTOMLLoader_LoadInvalid(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/invalid.toml", "\n[sandbox\ntimeout = 4\n")

	_, err := NewTOMLLoaderWithFS(memfs, "/invalid.toml").Load()
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T (%v)", err, err)
	}
	if parseErr.Path != "/invalid.toml" {
		t.Errorf("Path = %q, want /invalid.toml", parseErr.Path)
	}
	if parseErr.Line == 0 {
		t.Error("ParseError carries no position")
	}
}

func TestTOMLLoader_LoadFromReader(t *testing.T) {
	config, err := (&TOMLLoader{}).LoadFromReader(strings.NewReader("level = \"debug\"\n"))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if config["level"] != "debug" {
		t.Errorf("level = %v, want debug", config["level"])
	}
}

func TestTOMLLoader_LoadWithIncludes(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/etc/plugforge.toml", `
"@include" = ["base.toml"]

[sandbox]
timeout = "5s"
`)
	memfs.AddFile("/etc/base.toml", `
[sandbox]
timeout = "30s"
enabled = true

[logging]
level = "warn"
`)

	config, err := NewTOMLLoaderWithFS(memfs, "/etc/plugforge.toml").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := config[IncludeKey]; ok {
		t.Error("include directive leaked into the config")
	}

	sandbox := config["sandbox"].(map[string]any)
	if sandbox["timeout"] != "5s" {
		t.Errorf("timeout = %v, want the including file's value", sandbox["timeout"])
	}
	if sandbox["enabled"] != true {
		t.Errorf("enabled = %v, want the included value", sandbox["enabled"])
	}
	if config["logging"].(map[string]any)["level"] != "warn" {
		t.Errorf("logging = %v", config["logging"])
	}
}

func TestTOMLLoader_LoadWithIncludes_DepthExceeded(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.toml", `"@include" = "b.toml"`)
	memfs.AddFile("/b.toml", `"@include" = ["c.toml"]`)
	memfs.AddFile("/c.toml", `value = 1`)

	loader := NewTOMLLoaderWithFS(memfs, "/a.toml")
	_, err := loader.LoadWithIncludes("/a.toml", 2)
	if !errors.Is(err, ErrIncludeDepthExceeded) {
		t.Fatalf("expected depth exceeded error, got: %v", err)
	}

	config, err := loader.LoadWithIncludes("/a.toml", 3)
	if err != nil {
		t.Fatalf("expected success with depth 3, got: %v", err)
	}
	if config["value"] != int64(1) {
		t.Errorf("value = %v, want 1", config["value"])
	}
}

func TestTOMLLoader_BadInclude(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.toml", `"@include" = 3`)
	if _, err := NewTOMLLoaderWithFS(memfs, "/a.toml").Load(); err == nil {
		t.Error("expected an error for a non-string include")
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"sandbox": map[string]any{"timeout": "30s", "enabled": true},
		"logging": map[string]any{"level": "info"},
	}
	src := map[string]any{
		"sandbox": map[string]any{"timeout": "5s"},
		"logging": "off",
		"deps":    map[string]any{"npmCommand": "pnpm"},
	}

	got := DeepMerge(dst, src)
	sandbox := got["sandbox"].(map[string]any)
	if sandbox["timeout"] != "5s" || sandbox["enabled"] != true {
		t.Errorf("sandbox = %v", sandbox)
	}
	if got["logging"] != "off" {
		t.Errorf("logging = %v, want replaced scalar", got["logging"])
	}
	if got["deps"].(map[string]any)["npmCommand"] != "pnpm" {
		t.Errorf("deps = %v", got["deps"])
	}

	if DeepMerge(nil, nil) == nil {
		t.Error("DeepMerge(nil, nil) should return an empty map")
	}
}

func TestClone(t *testing.T) {
	src := map[string]any{
		"paths": map[string]any{"pluginsDir": "plugins"},
		"list":  []any{map[string]any{"a": 1}},
	}
	dst := Clone(src)
	dst["paths"].(map[string]any)["pluginsDir"] = "changed"
	dst["list"].([]any)[0].(map[string]any)["a"] = 2

	if src["paths"].(map[string]any)["pluginsDir"] != "plugins" {
		t.Error("Clone shares nested maps")
	}
	if src["list"].([]any)[0].(map[string]any)["a"] != 1 {
		t.Error("Clone shares slice elements")
	}
	if Clone(nil) != nil {
		t.Error("Clone(nil) should be nil")
	}
}
