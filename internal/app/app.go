// Package app wires plugforge's components together and implements the
// plugin lifecycle workflows the command line drives.
package app

import (
	"errors"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/plugforge/internal/config"
	"github.com/dshills/plugforge/internal/integration/process"
	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/analyzer"
	"github.com/dshills/plugforge/internal/plugin/deps"
	"github.com/dshills/plugforge/internal/plugin/loader"
	"github.com/dshills/plugforge/internal/plugin/sandbox"
	"github.com/dshills/plugforge/internal/store"
)

// Options configures application startup.
type Options struct {
	// ConfigPath is the TOML file to read. Empty uses PLUGFORGE_CONFIG or
	// plugforge.toml.
	ConfigPath string

	// Config replaces file and environment loading when set.
	Config *config.Config

	// LogOutput receives log lines. Nil means stderr.
	LogOutput io.Writer

	// Runner runs package installer commands. Nil uses a process supervisor.
	Runner deps.Runner
}

// Application owns the configured components.
type Application struct {
	cfg        *config.Config
	logger     hclog.Logger
	store      *store.Store
	sandbox    *sandbox.Sandbox
	loader     *loader.Loader
	analyzer   *analyzer.Analyzer
	supervisor *process.Supervisor
	runner     deps.Runner

	depsMu sync.Mutex
	deps   map[plugin.Language]*deps.Manager

	closeOnce sync.Once
	closeErr  error
}

// New loads configuration and starts every component. On failure the
// components already started are released.
func New(opts Options) (*Application, error) {
	a := &Application{deps: make(map[plugin.Language]*deps.Manager)}
	if err := newBootstrapper(a, opts).bootstrap(); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the resolved configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the root logger.
func (a *Application) Logger() hclog.Logger { return a.logger }

// Store returns the descriptor store.
func (a *Application) Store() *store.Store { return a.store }

// Loader returns the plugin registry.
func (a *Application) Loader() *loader.Loader { return a.loader }

// Analyzer returns the artifact analyzer.
func (a *Application) Analyzer() *analyzer.Analyzer { return a.analyzer }

// Sandbox returns the execution sandbox.
func (a *Application) Sandbox() *sandbox.Sandbox { return a.sandbox }

// Close stops running installers and releases logs and the store.
func (a *Application) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.supervisor != nil {
			a.supervisor.Shutdown(shutdownTimeout)
		}
		if a.loader != nil {
			errs = append(errs, a.loader.Close())
		}
		if a.sandbox != nil {
			errs = append(errs, a.sandbox.Close())
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
