package app

import (
	"context"
	"fmt"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/deps"
)

// Dependencies returns the package manager for lang, creating it on first
// use. Creation reads the installed-package snapshot, so it fails when the
// ecosystem's command is unavailable.
func (a *Application) Dependencies(ctx context.Context, lang plugin.Language) (*deps.Manager, error) {
	a.depsMu.Lock()
	defer a.depsMu.Unlock()

	if m, ok := a.deps[lang]; ok {
		return m, nil
	}

	var installer deps.Installer
	switch lang {
	case plugin.LanguageLua:
		installer = &deps.LuaRocksInstaller{
			Command: a.cfg.Deps.LuaRocksCommand,
			Tree:    a.cfg.Deps.LuaRocksTree,
			Runner:  a.runner,
		}
	case plugin.LanguageJavaScript:
		installer = &deps.NPMInstaller{
			Command: a.cfg.Deps.NPMCommand,
			Prefix:  a.cfg.Deps.NPMPrefix,
			Runner:  a.runner,
		}
	default:
		return nil, fmt.Errorf("%w %s", ErrNoInstaller, lang)
	}

	m, err := deps.NewManager(ctx, installer,
		deps.WithLogger(a.logger.Named("deps").With("language", string(lang))),
		deps.WithInstallTimeout(a.cfg.Deps.InstallTimeout),
	)
	if err != nil {
		return nil, err
	}
	a.deps[lang] = m
	return m, nil
}

// MissingDeps returns the specs not satisfied by the installed packages.
func (a *Application) MissingDeps(ctx context.Context, lang plugin.Language, specs []string) ([]string, error) {
	m, err := a.Dependencies(ctx, lang)
	if err != nil {
		return nil, err
	}
	return m.Missing(specs), nil
}

// InstallDeps installs every missing spec. Per-package failures are in the
// report, not the error.
func (a *Application) InstallDeps(ctx context.Context, lang plugin.Language, specs []string) (*deps.Report, error) {
	m, err := a.Dependencies(ctx, lang)
	if err != nil {
		return nil, err
	}
	return m.Reconcile(ctx, specs), nil
}
