package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/sandbox"
)

// Defaults.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultDebounce = 100 * time.Millisecond
)

// Config configures a Loader.
type Config struct {
	// PluginsDir holds one directory per installed plugin.
	PluginsDir string

	// LogsDir holds the execution log. Empty disables the file log; records
	// still reach the configured sinks.
	LogsDir string

	// Timeout is the deadline Execute uses when given none.
	Timeout time.Duration

	// Debounce is how long Watch waits for a plugin directory to settle.
	Debounce time.Duration
}

// Program is a compiled entry the sandbox can validate and run.
type Program interface {
	sandbox.Inspected
	HasEntry() bool
}

// Loaded is a registry entry. It is replaced whole on reload and never
// mutated once registered.
type Loaded struct {
	Descriptor *plugin.Descriptor
	Program    Program
	Dir        string
	LoadedAt   time.Time
}

// Catalog looks up persisted descriptors for the lazy-load path. A missing
// plugin is reported with an error wrapping plugin.ErrPluginNotFound.
type Catalog interface {
	GetDescriptor(ctx context.Context, id string) (*plugin.Descriptor, error)
}

// Loader owns the plugin registry.
type Loader struct {
	cfg     Config
	sandbox *sandbox.Sandbox
	catalog Catalog
	logger  hclog.Logger
	now     func() time.Time

	mu sync.RWMutex

	// Loaded plugins by id
	plugins map[string]*Loaded

	// Registration order, for deterministic listing
	loadOrder []string

	// Event handlers (protected by mu)
	handlers []EventHandler

	// Serializes record fan-out so sinks see completion order
	recordMu sync.Mutex
	sinks    []RecordSink
	execLog  *ExecutionLog
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithCatalog sets the persisted descriptor lookup used by Execute.
func WithCatalog(c Catalog) Option {
	return func(l *Loader) {
		l.catalog = c
	}
}

// WithRecordSink adds a receiver of execution records.
func WithRecordSink(s RecordSink) Option {
	return func(l *Loader) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// New creates a Loader that runs plugins in sb.
func New(cfg Config, sb *sandbox.Sandbox, opts ...Option) (*Loader, error) {
	if cfg.PluginsDir == "" {
		return nil, errors.New("loader: plugins directory is required")
	}
	if sb == nil {
		return nil, errors.New("loader: sandbox is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	l := &Loader{
		cfg:       cfg,
		sandbox:   sb,
		logger:    hclog.NewNullLogger(),
		now:       time.Now,
		plugins:   make(map[string]*Loaded),
		loadOrder: make([]string, 0),
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.LogsDir != "" {
		execLog, err := OpenExecutionLog(cfg.LogsDir)
		if err != nil {
			return nil, err
		}
		l.execLog = execLog
		l.sinks = append([]RecordSink{execLog}, l.sinks...)
	}
	return l, nil
}

// Close releases the execution log.
func (l *Loader) Close() error {
	if l.execLog == nil {
		return nil
	}
	return l.execLog.Close()
}

// PluginsDir returns the plugins root.
func (l *Loader) PluginsDir() string {
	return l.cfg.PluginsDir
}

// Load loads the plugin in <pluginsDir>/<id>. If the plugin is already
// registered the existing entry is returned.
func (l *Loader) Load(ctx context.Context, id string) (*Loaded, error) {
	return l.load(ctx, id, nil)
}

// LoadDescriptor loads d.ID, using d beneath the directory's manifest when
// merging metadata.
func (l *Loader) LoadDescriptor(ctx context.Context, d *plugin.Descriptor) (*Loaded, error) {
	if d == nil {
		return nil, errors.New("loader: nil descriptor")
	}
	return l.load(ctx, d.ID, d)
}

func (l *Loader) load(ctx context.Context, id string, persisted *plugin.Descriptor) (*Loaded, error) {
	// Quick check under lock
	if lp, ok := l.Get(id); ok {
		return lp, nil
	}

	// Compile outside the lock
	lp, err := l.build(ctx, id, persisted)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	// Double-check - another goroutine might have loaded it
	if existing, ok := l.plugins[id]; ok {
		l.mu.Unlock()
		return existing, nil
	}
	l.plugins[id] = lp
	l.loadOrder = append(l.loadOrder, id)
	l.mu.Unlock()

	l.logger.Info("plugin loaded", "plugin", id, "version", lp.Descriptor.Version, "language", lp.Descriptor.Language)
	l.emit(Event{Type: EventLoaded, PluginID: id})
	return lp, nil
}

// LoadAll loads every plugin directory. One bad plugin never blocks the
// rest; failures are joined into the returned error.
func (l *Loader) LoadAll(ctx context.Context) error {
	ids, err := l.Discover()
	if err != nil {
		return err
	}

	var loadErrors []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := l.Load(ctx, id); err != nil {
			l.logger.Warn("plugin failed to load", "plugin", id, "error", err)
			loadErrors = append(loadErrors, err)
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// Get returns the registered entry for id.
func (l *Loader) Get(id string) (*Loaded, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lp, ok := l.plugins[id]
	return lp, ok
}

// List returns registered plugins in load order.
func (l *Loader) List() []*Loaded {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Loaded, 0, len(l.loadOrder))
	for _, id := range l.loadOrder {
		if lp, ok := l.plugins[id]; ok {
			result = append(result, lp)
		}
	}
	return result
}

// Count returns the number of registered plugins.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.plugins)
}

// Info returns a copy of the descriptor for id. Registered plugins report
// their merged descriptor; otherwise the directory's manifest is read.
func (l *Loader) Info(id string) (*plugin.Descriptor, error) {
	if lp, ok := l.Get(id); ok {
		return lp.Descriptor.Clone(), nil
	}

	dir, err := l.pluginDir(id)
	if err != nil {
		return nil, err
	}
	d, _, err := plugin.LoadManifestFromDir(dir)
	if err != nil {
		return nil, &plugin.LoadError{Kind: plugin.ErrImportFailure, PluginID: id, Err: err}
	}
	if d == nil {
		d = &plugin.Descriptor{}
	}
	d.ID = id
	d.ApplyDefaults()
	return d, nil
}

// Reload recompiles id from disk and replaces its entry. The cached
// validation verdict is dropped. When compilation fails the previous entry
// stays registered.
func (l *Loader) Reload(ctx context.Context, id string) (*Loaded, error) {
	var persisted *plugin.Descriptor
	if lp, ok := l.Get(id); ok {
		persisted = lp.Descriptor
	}

	lp, err := l.build(ctx, id, persisted)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", id, err)
	}

	l.mu.Lock()
	if _, ok := l.plugins[id]; !ok {
		l.loadOrder = append(l.loadOrder, id)
	}
	l.plugins[id] = lp
	l.mu.Unlock()

	l.sandbox.Forget(id)
	l.logger.Info("plugin reloaded", "plugin", id, "version", lp.Descriptor.Version)
	l.emit(Event{Type: EventReloaded, PluginID: id})
	return lp, nil
}

// Unload removes id from the registry.
func (l *Loader) Unload(id string) error {
	l.mu.Lock()
	if _, ok := l.plugins[id]; !ok {
		l.mu.Unlock()
		return &plugin.LoadError{Kind: plugin.ErrPluginNotFound, PluginID: id}
	}
	delete(l.plugins, id)
	l.removeFromLoadOrder(id)
	l.mu.Unlock()

	l.sandbox.Forget(id)
	l.logger.Info("plugin unloaded", "plugin", id)
	l.emit(Event{Type: EventUnloaded, PluginID: id})
	return nil
}

// Uninstall unloads id, if registered, and removes its directory.
func (l *Loader) Uninstall(id string) error {
	dir, err := l.pluginDir(id)
	if err != nil {
		return err
	}
	if err := l.Unload(id); err != nil && !errors.Is(err, plugin.ErrPluginNotFound) {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove plugin %s: %w", id, err)
	}
	l.logger.Info("plugin uninstalled", "plugin", id, "dir", dir)
	return nil
}

// pluginDir returns the directory of an existing plugin.
func (l *Loader) pluginDir(id string) (string, error) {
	if err := (&plugin.Descriptor{ID: id}).Validate(); err != nil {
		return "", &plugin.LoadError{Kind: plugin.ErrPluginNotFound, PluginID: id, Err: err}
	}
	dir := filepath.Join(l.cfg.PluginsDir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &plugin.LoadError{Kind: plugin.ErrPluginNotFound, PluginID: id}
	}
	return dir, nil
}

// removeFromLoadOrder removes an id from the load order slice.
// Must be called with mu held.
func (l *Loader) removeFromLoadOrder(id string) {
	for i, n := range l.loadOrder {
		if n == id {
			l.loadOrder = append(l.loadOrder[:i], l.loadOrder[i+1:]...)
			return
		}
	}
}
