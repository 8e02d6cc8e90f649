package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/deps"
)

// InstallResult describes one completed install.
type InstallResult struct {
	Descriptor *plugin.Descriptor
	Dir        string
	State      plugin.State

	// Deps is nil when the plugin declares no requirements or when its
	// package manager could not be started; DepsErr then says why.
	Deps    *deps.Report
	DepsErr error
}

// Analyze extracts the descriptor of the artifact at path. With save the
// descriptor is stored; a new plugin starts out Analyzed and a known one
// keeps its state.
func (a *Application) Analyze(ctx context.Context, path string, save bool) (*plugin.Descriptor, error) {
	d, err := a.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, &OperationError{Op: "analyze", Err: err}
	}
	if save {
		if err := a.store.SaveDescriptor(ctx, d); err != nil {
			return nil, &OperationError{Op: "analyze", PluginID: d.ID, Err: err}
		}
	}
	return d, nil
}

// Install lays the artifact out under the plugins root, reconciles its
// requirements and records it as Installed. The plugin must be Approved,
// or approve must be set. Reinstalling an installed plugin keeps its state
// and reloads it when it is loaded.
func (a *Application) Install(ctx context.Context, path string, approve bool) (*InstallResult, error) {
	d, err := a.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, &OperationError{Op: "install", Err: err}
	}

	current, known, err := a.state(ctx, d.ID)
	if err != nil {
		return nil, &OperationError{Op: "install", PluginID: d.ID, Err: err}
	}
	steps, err := installSteps(current, known, approve)
	if err != nil {
		return nil, &OperationError{Op: "install", PluginID: d.ID, Err: err}
	}

	installed, dir, err := a.analyzer.Install(ctx, path, a.cfg.Paths.PluginsDir)
	if err != nil {
		return nil, &OperationError{Op: "install", PluginID: d.ID, Err: err}
	}
	d = installed
	res := &InstallResult{Descriptor: d, Dir: dir}

	if len(d.Requirements) > 0 {
		report, err := a.InstallDeps(ctx, d.Language, d.Requirements)
		switch {
		case errors.Is(err, ErrNoInstaller):
			a.logger.Warn("requirements declared for a language without installer",
				"id", d.ID, "language", d.Language, "requirements", d.Requirements)
		case err != nil:
			a.logger.Warn("requirements not reconciled", "id", d.ID, "error", err)
			res.DepsErr = err
		default:
			res.Deps = report
		}
	}

	if err := a.store.SaveDescriptor(ctx, d); err != nil {
		return nil, &OperationError{Op: "install", PluginID: d.ID, Err: err}
	}
	for _, next := range steps {
		if err := a.store.SetState(ctx, d.ID, next); err != nil {
			return nil, &OperationError{Op: "install", PluginID: d.ID, Err: err}
		}
	}
	if res.State, err = a.store.State(ctx, d.ID); err != nil {
		return nil, &OperationError{Op: "install", PluginID: d.ID, Err: err}
	}

	if _, loaded := a.loader.Get(d.ID); loaded {
		if _, err := a.loader.Reload(ctx, d.ID); err != nil {
			a.logger.Warn("reload after install failed", "id", d.ID, "error", err)
		}
	}
	a.logger.Info("plugin installed", "id", d.ID, "version", d.Version, "state", res.State)
	return res, nil
}

// installSteps returns the transitions that take a plugin in state current
// to Installed. A plugin that is already installed needs none.
func installSteps(current plugin.State, known, approve bool) ([]plugin.State, error) {
	if !known || current == plugin.StateUploaded {
		current = plugin.StateAnalyzed
	}
	switch current {
	case plugin.StateAnalyzed:
		if !approve {
			return nil, fmt.Errorf("%w: plugin is %s", ErrNotApproved, current)
		}
		return []plugin.State{plugin.StateApproved, plugin.StateInstalled}, nil
	case plugin.StateApproved:
		return []plugin.State{plugin.StateInstalled}, nil
	case plugin.StateInstalled, plugin.StateLoaded, plugin.StateActive, plugin.StateInactive:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s -> %s", plugin.ErrInvalidTransition, current, plugin.StateInstalled)
	}
}

// state returns the stored state of id and whether the store knows it.
func (a *Application) state(ctx context.Context, id string) (plugin.State, bool, error) {
	s, err := a.store.State(ctx, id)
	if errors.Is(err, plugin.ErrPluginNotFound) {
		return plugin.StateUploaded, false, nil
	}
	if err != nil {
		return plugin.StateUploaded, false, err
	}
	return s, true, nil
}

// Transition moves a stored plugin to next. Plugins leaving execution are
// unloaded from the registry.
func (a *Application) Transition(ctx context.Context, id string, next plugin.State) error {
	if err := a.store.SetState(ctx, id, next); err != nil {
		return &OperationError{Op: "set state", PluginID: id, Err: err}
	}
	switch next {
	case plugin.StateInactive, plugin.StateArchived, plugin.StateRejected:
		if _, loaded := a.loader.Get(id); loaded {
			if err := a.loader.Unload(id); err != nil {
				return &OperationError{Op: "unload", PluginID: id, Err: err}
			}
		}
	}
	a.logger.Info("plugin state changed", "id", id, "state", next)
	return nil
}

// Uninstall unloads the plugin, removes its directory and forgets it.
// Either half may be missing; it fails only if neither exists.
func (a *Application) Uninstall(ctx context.Context, id string) error {
	dirErr := a.loader.Uninstall(id)
	storeErr := a.store.Delete(ctx, id)

	dirMissing := errors.Is(dirErr, plugin.ErrPluginNotFound)
	storeMissing := errors.Is(storeErr, plugin.ErrPluginNotFound)
	switch {
	case dirErr != nil && !dirMissing:
		return &OperationError{Op: "uninstall", PluginID: id, Err: dirErr}
	case storeErr != nil && !storeMissing:
		return &OperationError{Op: "uninstall", PluginID: id, Err: storeErr}
	case dirMissing && storeMissing:
		return &OperationError{Op: "uninstall", PluginID: id, Err: plugin.ErrPluginNotFound}
	}
	a.logger.Info("plugin uninstalled", "id", id)
	return nil
}

// Run executes a stored plugin. Installed plugins become Loaded once their
// code is in the registry. Plugins in any other non-usable state are
// refused before anything is loaded; the refusal is still recorded.
func (a *Application) Run(ctx context.Context, id string, execCtx plugin.ExecutionContext, timeout time.Duration) (*plugin.ExecutionResult, error) {
	current, known, err := a.state(ctx, id)
	if err != nil {
		return nil, &OperationError{Op: "run", PluginID: id, Err: err}
	}
	if known && current != plugin.StateInstalled && !current.IsUsable() {
		cause := fmt.Errorf("%w: plugin is %s", ErrNotRunnable, current)
		return a.loader.Refuse(ctx, id, execCtx, cause), &OperationError{Op: "run", PluginID: id, Err: cause}
	}

	res, err := a.loader.Execute(ctx, id, execCtx, timeout)

	if _, loaded := a.loader.Get(id); loaded && known && current == plugin.StateInstalled {
		if serr := a.store.SetState(ctx, id, plugin.StateLoaded); serr != nil {
			a.logger.Warn("record loaded state", "id", id, "error", serr)
		}
	}
	return res, err
}

// Watch loads every plugin under the plugins root and, with loader.watch
// enabled, reloads them as their directories change until ctx is done.
func (a *Application) Watch(ctx context.Context) error {
	if err := a.loader.LoadAll(ctx); err != nil {
		a.logger.Warn("initial load incomplete", "error", err)
	}
	if !a.cfg.Loader.Watch {
		a.logger.Info("file watching disabled", "plugins", a.loader.Count())
		<-ctx.Done()
		return nil
	}
	return a.loader.Watch(ctx)
}
