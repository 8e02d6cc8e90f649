package deps

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// Installer reads and extends one package ecosystem.
type Installer interface {
	// Installed returns installed package versions keyed by package name.
	Installed(ctx context.Context) (map[string]string, error)
	// Install installs one package.
	Install(ctx context.Context, spec Spec) error
}

// Report summarizes one Reconcile call. Failed must be shown to the user.
type Report struct {
	Requested []string
	Installed []string
	Failed    []string
	Errors    []*DependencyError
}

// Err joins the per-package failures, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Manager owns the installed-package snapshot for one Installer.
type Manager struct {
	installer      Installer
	logger         hclog.Logger
	installTimeout time.Duration

	mu       sync.RWMutex
	snapshot map[string]string

	installs singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithInstallTimeout bounds each package install. Zero means no bound.
func WithInstallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.installTimeout = d
	}
}

// NewManager creates a Manager and takes the first snapshot.
func NewManager(ctx context.Context, installer Installer, opts ...Option) (*Manager, error) {
	m := &Manager{
		installer: installer,
		logger:    hclog.NewNullLogger(),
		snapshot:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh rebuilds the snapshot from the installer.
func (m *Manager) Refresh(ctx context.Context) error {
	installed, err := m.installer.Installed(ctx)
	if err != nil {
		return fmt.Errorf("read installed packages: %w", err)
	}
	snapshot := make(map[string]string, len(installed))
	for name, v := range installed {
		snapshot[strings.ToLower(name)] = v
	}

	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the installed-package snapshot.
func (m *Manager) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.snapshot)
}

func (m *Manager) installed(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.snapshot[strings.ToLower(name)]
	return v, ok
}

// IsSatisfied reports whether name is installed at minVersion or later.
// An empty minVersion only checks presence.
func (m *Manager) IsSatisfied(name, minVersion string) bool {
	have, ok := m.installed(name)
	if !ok {
		return false
	}
	if minVersion == "" {
		return true
	}
	cmp, err := CompareVersions(have, minVersion)
	return err == nil && cmp >= 0
}

// satisfied reports whether spec needs no install. Anything that cannot
// be parsed or compared counts as unsatisfied.
func (m *Manager) satisfied(raw string) bool {
	spec, err := ParseSpec(raw)
	if err != nil {
		return false
	}
	have, ok := m.installed(spec.Name)
	if !ok {
		return false
	}
	ok, err = spec.Satisfied(have)
	if err != nil {
		m.logger.Debug("cannot compare versions, treating as missing", "spec", raw, "installed", have, "error", err)
		return false
	}
	return ok
}

// Missing returns the specs the snapshot does not satisfy, in order.
func (m *Manager) Missing(specs []string) []string {
	var missing []string
	for _, raw := range specs {
		if !m.satisfied(raw) {
			missing = append(missing, raw)
		}
	}
	return missing
}

// Reconcile installs every missing spec in order. A failed install is
// retried once without its constraint; a second failure is recorded and
// the batch continues. The snapshot is refreshed afterwards.
func (m *Manager) Reconcile(ctx context.Context, specs []string) *Report {
	report := &Report{Requested: append([]string(nil), specs...)}
	missing := m.Missing(specs)
	if len(missing) == 0 {
		return report
	}
	m.logger.Info("installing dependencies", "count", len(missing), "specs", missing)

	for _, raw := range missing {
		spec, err := ParseSpec(raw)
		if err == nil {
			err = m.install(ctx, spec)
		}
		if err != nil {
			m.logger.Warn("dependency install failed", "spec", raw, "error", err)
			report.Failed = append(report.Failed, raw)
			report.Errors = append(report.Errors, &DependencyError{Spec: raw, Err: err})
			continue
		}
		report.Installed = append(report.Installed, raw)
	}

	if err := m.Refresh(ctx); err != nil {
		m.logger.Error("refresh package snapshot", "error", err)
	}
	return report
}

// install serializes installs of the same package across callers. A caller
// that joins an install started for another spec of the same package
// re-checks the refreshed snapshot and installs its own spec when the
// shared result does not satisfy it.
func (m *Manager) install(ctx context.Context, spec Spec) error {
	for {
		ran := false
		_, err, _ := m.installs.Do(spec.Key(), func() (any, error) {
			ran = true
			return nil, m.installWithRetry(ctx, spec)
		})
		if ran {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Refresh(ctx); err != nil {
			return err
		}
		if m.satisfied(spec.Raw) {
			m.logger.Debug("joined in-flight install", "package", spec.Name, "spec", spec.Raw)
			return nil
		}
		m.logger.Debug("joined install did not satisfy spec", "package", spec.Name, "spec", spec.Raw)
	}
}

func (m *Manager) installWithRetry(ctx context.Context, spec Spec) error {
	err := m.installOnce(ctx, spec)
	if err == nil || !spec.Constrained() || ctx.Err() != nil {
		return err
	}
	m.logger.Info("retrying without version constraint", "spec", spec.Raw, "error", err)
	if retryErr := m.installOnce(ctx, spec.Unconstrained()); retryErr != nil {
		return errors.Join(err, retryErr)
	}
	return nil
}

func (m *Manager) installOnce(ctx context.Context, spec Spec) error {
	if m.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.installTimeout)
		defer cancel()
	}
	return m.installer.Install(ctx, spec)
}
