package app

import (
	"os"
	"time"

	"github.com/dshills/plugforge/internal/config"
	"github.com/dshills/plugforge/internal/integration/process"
	"github.com/dshills/plugforge/internal/plugin/analyzer"
	"github.com/dshills/plugforge/internal/plugin/loader"
	"github.com/dshills/plugforge/internal/plugin/sandbox"
	"github.com/dshills/plugforge/internal/plugin/security"
	"github.com/dshills/plugforge/internal/store"
)

const shutdownTimeout = 5 * time.Second

// bootstrapper handles component initialization with cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap initializes all components in dependency order.
func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initConfig,
		b.initStore,
		b.initSandbox,
		b.initLoader,
		b.initAnalyzer,
		b.initSupervisor,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.cleanup()
			return err
		}
	}
	b.app.logger.Debug("application started", "components", b.initOrder)
	return nil
}

// initConfig resolves configuration and builds the logger.
func (b *bootstrapper) initConfig() error {
	cfg := b.opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(b.opts.ConfigPath); err != nil {
			return &InitError{Component: "config", Err: err}
		}
	} else if err := cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	b.app.cfg = cfg
	b.app.logger = NewLogger(cfg.Logging, b.opts.LogOutput)
	if cfg.File != "" {
		b.app.logger.Debug("configuration loaded", "file", cfg.File)
	}
	b.initOrder = append(b.initOrder, "config")
	return nil
}

func (b *bootstrapper) initStore() error {
	st, err := store.Open(b.app.cfg.Paths.Database)
	if err != nil {
		return &InitError{Component: "store", Err: err}
	}
	b.app.store = st
	b.initOrder = append(b.initOrder, "store")
	return nil
}

func (b *bootstrapper) initSandbox() error {
	cfg := b.app.cfg
	sb, err := sandbox.New(sandbox.Config{
		Validate:  cfg.Sandbox.Enabled,
		Timeout:   cfg.Sandbox.Timeout,
		KillGrace: cfg.Sandbox.KillGrace,
		Limits: security.ResourceLimits{
			ExecutionTimeout: cfg.Sandbox.Timeout,
			FileOpsPerSecond: cfg.Sandbox.FileOpsPerSecond,
			MaxOutputSize:    cfg.Sandbox.MaxOutputSize,
			MaxFileSize:      cfg.Sandbox.MaxFileSize,
		},
		Capabilities: capabilities(cfg.Sandbox.Capabilities),
		TempDir:      cfg.Paths.TempDir,
		LogsDir:      cfg.Paths.LogsDir,
	}, sandbox.WithLogger(b.app.logger.Named("sandbox")))
	if err != nil {
		return &InitError{Component: "sandbox", Err: err}
	}
	b.app.sandbox = sb
	b.initOrder = append(b.initOrder, "sandbox")
	return nil
}

func capabilities(names []string) []security.Capability {
	if names == nil {
		return nil
	}
	caps := make([]security.Capability, len(names))
	for i, name := range names {
		caps[i] = security.Capability(name)
	}
	return caps
}

func (b *bootstrapper) initLoader() error {
	cfg := b.app.cfg
	l, err := loader.New(loader.Config{
		PluginsDir: cfg.Paths.PluginsDir,
		LogsDir:    cfg.Paths.LogsDir,
		Timeout:    cfg.Sandbox.Timeout,
		Debounce:   cfg.Loader.Debounce,
	}, b.app.sandbox,
		loader.WithLogger(b.app.logger.Named("loader")),
		loader.WithCatalog(b.app.store),
		loader.WithRecordSink(b.app.store),
	)
	if err != nil {
		return &InitError{Component: "loader", Err: err}
	}
	b.app.loader = l
	b.initOrder = append(b.initOrder, "loader")
	return nil
}

func (b *bootstrapper) initAnalyzer() error {
	if dir := b.app.cfg.Paths.TempDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &InitError{Component: "analyzer", Err: err}
		}
	}
	b.app.analyzer = analyzer.New(
		analyzer.WithLogger(b.app.logger.Named("analyzer")),
		analyzer.WithPolicy(b.app.sandbox.Policy()),
		analyzer.WithTempDir(b.app.cfg.Paths.TempDir),
	)
	b.initOrder = append(b.initOrder, "analyzer")
	return nil
}

// initSupervisor prepares the runner for installer commands.
func (b *bootstrapper) initSupervisor() error {
	if b.opts.Runner != nil {
		b.app.runner = b.opts.Runner
	} else {
		b.app.supervisor = process.NewSupervisor(
			process.WithLogger(b.app.logger.Named("process")),
		)
		b.app.runner = b.app.supervisor
	}
	b.initOrder = append(b.initOrder, "supervisor")
	return nil
}

// cleanup releases components in reverse initialization order.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "supervisor":
		if b.app.supervisor != nil {
			b.app.supervisor.Shutdown(shutdownTimeout)
			b.app.supervisor = nil
		}
	case "loader":
		if b.app.loader != nil {
			_ = b.app.loader.Close()
			b.app.loader = nil
		}
	case "sandbox":
		if b.app.sandbox != nil {
			_ = b.app.sandbox.Close()
			b.app.sandbox = nil
		}
	case "store":
		if b.app.store != nil {
			_ = b.app.store.Close()
			b.app.store = nil
		}
	}
}
