package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/sandbox"
)

const echoLua = `
PLUGIN_NAME = "Echo"
PLUGIN_VERSION = "1.2.0"

function execute(ctx)
  return {success = true, text = ctx.input.text, user = ctx.user_id}
end
`

// memSink keeps records in memory.
type memSink struct {
	mu      sync.Mutex
	records []plugin.ExecutionRecord
}

func (s *memSink) RecordExecution(_ context.Context, rec plugin.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) all() []plugin.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]plugin.ExecutionRecord(nil), s.records...)
}

// fakeCatalog serves descriptors from a map.
type fakeCatalog map[string]*plugin.Descriptor

func (c fakeCatalog) GetDescriptor(_ context.Context, id string) (*plugin.Descriptor, error) {
	d, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("descriptor %s: %w", id, plugin.ErrPluginNotFound)
	}
	return d.Clone(), nil
}

type fixture struct {
	loader     *Loader
	pluginsDir string
	tempDir    string
	sink       *memSink
}

func newFixture(t *testing.T, mutate func(*Config), opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		pluginsDir: t.TempDir(),
		tempDir:    t.TempDir(),
		sink:       &memSink{},
	}

	sbCfg := sandbox.DefaultConfig()
	sbCfg.TempDir = f.tempDir
	sb, err := sandbox.New(sbCfg)
	if err != nil {
		t.Fatalf("sandbox.New() error = %v", err)
	}

	cfg := Config{PluginsDir: f.pluginsDir, Timeout: 5 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithRecordSink(f.sink)}, opts...)
	l, err := New(cfg, sb, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	f.loader = l
	return f
}

func (f *fixture) write(t *testing.T, id string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(f.pluginsDir, id, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func input(user, text string) plugin.ExecutionContext {
	return plugin.ExecutionContext{UserID: user, Input: map[string]any{"text": text}}
}

func TestNewRequiresDirAndSandbox(t *testing.T) {
	sb, err := sandbox.New(sandbox.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{}, sb); err == nil {
		t.Error("New() without a plugins dir should fail")
	}
	if _, err := New(Config{PluginsDir: t.TempDir()}, nil); err == nil {
		t.Error("New() without a sandbox should fail")
	}
}

func TestLoadMergesMetadata(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "echo", map[string]string{
		"entry.lua":     echoLua,
		"manifest.json": `{"name": "Manifest Name", "version": "0.1.0", "author": "Grace", "requirements": ["lpeg>=1.0"]}`,
	})

	lp, err := f.loader.Load(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	d := lp.Descriptor
	if d.ID != "echo" {
		t.Errorf("ID = %q, want directory name", d.ID)
	}
	if d.Name != "Echo" || d.Version != "1.2.0" {
		t.Errorf("Name/Version = %q/%q, want entry constants", d.Name, d.Version)
	}
	if d.Author != "Grace" {
		t.Errorf("Author = %q, want manifest value", d.Author)
	}
	if d.Category != plugin.DefaultCategory {
		t.Errorf("Category = %q, want default", d.Category)
	}
	if len(d.Requirements) != 1 || d.Requirements[0] != "lpeg>=1.0" {
		t.Errorf("Requirements = %v", d.Requirements)
	}
	if d.Entry != "entry.lua" || d.Language != plugin.LanguageLua {
		t.Errorf("Entry/Language = %q/%q", d.Entry, d.Language)
	}
	if lp.Dir != filepath.Join(f.pluginsDir, "echo") || lp.LoadedAt.IsZero() {
		t.Errorf("Dir = %q, LoadedAt = %v", lp.Dir, lp.LoadedAt)
	}
}

func TestLoadManifestEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "greeter", map[string]string{
		"lib/main.js":   "const PLUGIN_NAME = 'Greeter';\nfunction execute(ctx) { return 'hi ' + ctx.user_id; }",
		"manifest.json": `{"name": "Greeter", "entry": "lib/main.js"}`,
	})

	lp, err := f.loader.Load(context.Background(), "greeter")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if lp.Descriptor.Entry != "lib/main.js" || lp.Descriptor.Language != plugin.LanguageJavaScript {
		t.Errorf("Entry/Language = %q/%q", lp.Descriptor.Entry, lp.Descriptor.Language)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "echo", map[string]string{"entry.lua": echoLua})

	var events int
	f.loader.Subscribe(func(e Event) {
		if e.Type == EventLoaded {
			events++
		}
	})

	first, err := f.loader.Load(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	second, err := f.loader.Load(context.Background(), "echo")
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if first != second {
		t.Error("Load() twice returned different entries")
	}
	if events != 1 || f.loader.Count() != 1 {
		t.Errorf("loaded events = %d, Count() = %d", events, f.loader.Count())
	}
}

func TestLoadErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "broken", map[string]string{"entry.lua": "function execute(ctx"})
	f.write(t, "empty", map[string]string{"README.md": "nothing here"})
	f.write(t, "shell", map[string]string{"entry.sh": "echo hi"})
	f.write(t, "badmanifest", map[string]string{"entry.lua": echoLua, "manifest.json": "{"})
	f.write(t, "escape", map[string]string{"entry.lua": echoLua, "manifest.json": `{"entry": "../other/entry.lua"}`})

	tests := []struct {
		id   string
		kind error
	}{
		{"missing", plugin.ErrPluginNotFound},
		{"../etc", plugin.ErrPluginNotFound},
		{"broken", plugin.ErrImportFailure},
		{"empty", plugin.ErrNoEntryPoint},
		{"shell", plugin.ErrImportFailure},
		{"badmanifest", plugin.ErrImportFailure},
		{"escape", plugin.ErrNoEntryPoint},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := f.loader.Load(context.Background(), tt.id)
			var lerr *plugin.LoadError
			if !errors.As(err, &lerr) {
				t.Fatalf("Load() error = %v, want *plugin.LoadError", err)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("Load() error = %v, want kind %v", err, tt.kind)
			}
		})
	}
	if f.loader.Count() != 0 {
		t.Errorf("Count() = %d after failed loads", f.loader.Count())
	}
}

func TestLoadAllCollectsFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "b-echo", map[string]string{"entry.lua": echoLua})
	f.write(t, "a-greeter", map[string]string{"entry.js": "function execute(ctx) { return 1; }"})
	f.write(t, "c-broken", map[string]string{"entry.lua": "function ("})
	f.write(t, ".hidden", map[string]string{"entry.lua": echoLua})

	err := f.loader.LoadAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load 1 plugins") {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if !errors.Is(err, plugin.ErrImportFailure) {
		t.Errorf("LoadAll() error does not wrap the load failure: %v", err)
	}

	list := f.loader.List()
	if len(list) != 2 || list[0].Descriptor.ID != "a-greeter" || list[1].Descriptor.ID != "b-echo" {
		t.Errorf("List() = %v", list)
	}
}

func TestLoadAllMissingRoot(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PluginsDir = filepath.Join(t.TempDir(), "absent") })
	if err := f.loader.LoadAll(context.Background()); err != nil {
		t.Errorf("LoadAll() error = %v, want nil for a missing root", err)
	}
}

func TestInfo(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "echo", map[string]string{
		"entry.lua":     echoLua,
		"manifest.json": `{"name": "From Manifest"}`,
	})

	d, err := f.loader.Info("echo")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if d.Name != "From Manifest" || d.ID != "echo" || d.Version != plugin.DefaultVersion {
		t.Errorf("Info() before load = %+v", d)
	}

	if _, err := f.loader.Load(context.Background(), "echo"); err != nil {
		t.Fatal(err)
	}
	d, err = f.loader.Info("echo")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if d.Name != "Echo" {
		t.Errorf("Info() after load Name = %q, want merged entry constant", d.Name)
	}

	d.Name = "changed"
	if lp, _ := f.loader.Get("echo"); lp.Descriptor.Name != "Echo" {
		t.Error("Info() returned the registry's descriptor instead of a copy")
	}

	if _, err := f.loader.Info("missing"); !errors.Is(err, plugin.ErrPluginNotFound) {
		t.Errorf("Info(missing) error = %v", err)
	}
}

func TestReload(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "echo", map[string]string{"entry.lua": echoLua})

	old, err := f.loader.Load(context.Background(), "echo")
	if err != nil {
		t.Fatal(err)
	}

	f.write(t, "echo", map[string]string{"entry.lua": strings.Replace(echoLua, "1.2.0", "1.3.0", 1)})
	lp, err := f.loader.Reload(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if lp == old || lp.Descriptor.Version != "1.3.0" {
		t.Errorf("Reload() version = %q", lp.Descriptor.Version)
	}
	if old.Descriptor.Version != "1.2.0" {
		t.Error("Reload() mutated the previous entry")
	}
	if got, _ := f.loader.Get("echo"); got != lp {
		t.Error("Get() does not return the reloaded entry")
	}

	f.write(t, "echo", map[string]string{"entry.lua": "function ("})
	if _, err := f.loader.Reload(context.Background(), "echo"); !errors.Is(err, plugin.ErrImportFailure) {
		t.Errorf("Reload() of broken source error = %v", err)
	}
	if got, _ := f.loader.Get("echo"); got != lp {
		t.Error("failed Reload() replaced the registered entry")
	}
	if len(f.loader.List()) != 1 {
		t.Errorf("List() = %d entries after reloads", len(f.loader.List()))
	}
}

func TestUnloadAndUninstall(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "echo", map[string]string{"entry.lua": echoLua})

	if _, err := f.loader.Load(context.Background(), "echo"); err != nil {
		t.Fatal(err)
	}
	if err := f.loader.Unload("echo"); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if _, ok := f.loader.Get("echo"); ok {
		t.Error("plugin still registered after Unload()")
	}
	if err := f.loader.Unload("echo"); !errors.Is(err, plugin.ErrPluginNotFound) {
		t.Errorf("second Unload() error = %v", err)
	}

	if _, err := f.loader.Load(context.Background(), "echo"); err != nil {
		t.Fatal(err)
	}
	if err := f.loader.Uninstall("echo"); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.pluginsDir, "echo")); !os.IsNotExist(err) {
		t.Error("plugin directory still exists after Uninstall()")
	}
	if f.loader.Count() != 0 {
		t.Errorf("Count() = %d after Uninstall()", f.loader.Count())
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "echo", map[string]string{"entry.lua": echoLua})

	var got []EventType
	unsubscribe := f.loader.Subscribe(func(e Event) {
		got = append(got, e.Type)
	})
	f.loader.Subscribe(func(Event) { panic("handler panic") })

	if _, err := f.loader.Load(context.Background(), "echo"); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := f.loader.Unload("echo"); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0] != EventLoaded {
		t.Errorf("events = %v, want [loaded]", got)
	}
}

func TestEventTypeString(t *testing.T) {
	if EventReloaded.String() != "reloaded" || EventType(99).String() != "unknown" {
		t.Errorf("String() = %q, %q", EventReloaded.String(), EventType(99).String())
	}
}

func TestPluginOf(t *testing.T) {
	root := filepath.Join("/srv", "plugins")
	tests := map[string]string{
		filepath.Join(root, "echo"):                "echo",
		filepath.Join(root, "echo", "lib", "a.js"): "echo",
		filepath.Join(root, ".staging", "x"):       "",
		root:                                       "",
		"/srv/other":                               "",
	}
	for path, want := range tests {
		if got := pluginOf(root, path); got != want {
			t.Errorf("pluginOf(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWatchReloadsChangedPlugin(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Debounce = 20 * time.Millisecond })
	f.write(t, "echo", map[string]string{"entry.lua": echoLua})
	if _, err := f.loader.Load(context.Background(), "echo"); err != nil {
		t.Fatal(err)
	}

	events := make(chan Event, 16)
	f.loader.Subscribe(func(e Event) {
		select {
		case events <- e:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loader.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register its directories
	time.Sleep(100 * time.Millisecond)
	f.write(t, "echo", map[string]string{"entry.lua": strings.Replace(echoLua, "1.2.0", "2.0.0", 1)})
	f.write(t, "fresh", map[string]string{"entry.lua": echoLua})

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !seen["echo"] || !seen["fresh"] {
		select {
		case e := <-events:
			if e.Type == EventReloaded {
				seen[e.PluginID] = true
			}
		case <-deadline:
			t.Fatalf("reload events = %v", seen)
		}
	}

	if lp, _ := f.loader.Get("echo"); lp.Descriptor.Version != "2.0.0" {
		t.Errorf("Version = %q after change", lp.Descriptor.Version)
	}
	if _, ok := f.loader.Get("fresh"); !ok {
		t.Error("new plugin directory was not loaded")
	}
}
