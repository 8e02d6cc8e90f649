package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/js"
	"github.com/dshills/plugforge/internal/plugin/lua"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// Defaults.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultKillGrace = 250 * time.Millisecond

	// TempDirPrefix prefixes every per-run directory.
	TempDirPrefix = "sandbox_"
)

// Config configures a Sandbox.
type Config struct {
	// Validate enables static validation. Runtime restrictions and the
	// deadline apply either way.
	Validate bool

	// Timeout is the deadline used when Run is given none.
	Timeout time.Duration

	// KillGrace is how long an interrupted run may take to unwind.
	KillGrace time.Duration

	// Limits bound output, file size and file operation rate per run.
	Limits security.ResourceLimits

	// Capabilities are granted to every run. Nil means
	// security.DefaultCapabilities; an empty slice grants nothing.
	Capabilities []security.Capability

	// TempDir is the parent of per-run directories. Empty means os.TempDir.
	TempDir string

	// LogsDir holds sandbox.log. Empty discards plugin output.
	LogsDir string
}

// DefaultConfig returns a validating configuration with default limits.
func DefaultConfig() Config {
	return Config{
		Validate:  true,
		Timeout:   DefaultTimeout,
		KillGrace: DefaultKillGrace,
		Limits:    security.DefaultResourceLimits(),
	}
}

// Inspected is a compiled program that carries the syntax walk of its source.
type Inspected interface {
	plugin.Program
	Info() *plugin.SourceInfo
}

// Outcome describes one invocation.
type Outcome struct {
	Phase   Phase
	Result  any
	Output  []string // lines the plugin printed
	Usage   security.ResourceUsage
	Elapsed time.Duration
	Dir     string // removed before Run returns
}

// Sandbox validates and runs plugin programs. It holds no per-run state
// beyond the cached validation verdicts and is safe for concurrent use.
type Sandbox struct {
	cfg        Config
	policy     *security.Policy
	logger     hclog.Logger
	output     *OutputLog
	ownsOutput bool

	mu       sync.RWMutex
	verdicts map[string]verdict
}

// verdict is a cached validation result and the program it was computed for.
type verdict struct {
	prog Inspected
	err  *plugin.ValidationError
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the sandbox's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithPolicy sets the validation policy.
func WithPolicy(policy *security.Policy) Option {
	return func(s *Sandbox) {
		s.policy = policy
	}
}

// WithOutputLog sends plugin output to l instead of <LogsDir>/sandbox.log.
func WithOutputLog(l *OutputLog) Option {
	return func(s *Sandbox) {
		s.output = l
	}
}

// New creates a Sandbox. Zero durations in cfg take their defaults.
func New(cfg Config, opts ...Option) (*Sandbox, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = security.DefaultCapabilities()
	}
	for _, c := range cfg.Capabilities {
		if !security.IsValidCapability(c) {
			return nil, fmt.Errorf("sandbox: unknown capability %q", c)
		}
	}

	s := &Sandbox{
		cfg:      cfg,
		policy:   security.DefaultPolicy(),
		logger:   hclog.NewNullLogger(),
		verdicts: make(map[string]verdict),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range cfg.Capabilities {
		info, _ := security.GetCapabilityInfo(c)
		s.logger.Debug("capability granted", "capability", c, "risk", info.RiskLevel, "description", info.Description)
	}

	if s.output == nil {
		if cfg.LogsDir == "" {
			s.output = NewOutputLog(io.Discard)
		} else {
			out, err := OpenOutputLog(cfg.LogsDir)
			if err != nil {
				return nil, err
			}
			s.output = out
			s.ownsOutput = true
		}
	}
	return s, nil
}

// Close releases the diagnostic log.
func (s *Sandbox) Close() error {
	if !s.ownsOutput {
		return nil
	}
	return s.output.Close()
}

// Policy returns the validation policy.
func (s *Sandbox) Policy() *security.Policy {
	return s.policy
}

// Validate checks prog against the policy. The verdict, pass or fail, is
// cached under pluginID for prog until Forget is called; a different
// program under the same id is checked again and replaces the entry.
func (s *Sandbox) Validate(pluginID string, prog Inspected) *plugin.ValidationError {
	s.mu.RLock()
	cached, ok := s.verdicts[pluginID]
	s.mu.RUnlock()
	if ok && cached.prog == prog {
		return cached.err
	}

	verr := s.policy.Check(prog.Language(), prog.Info())

	s.mu.Lock()
	s.verdicts[pluginID] = verdict{prog: prog, err: verr}
	s.mu.Unlock()

	if verr != nil {
		s.logger.Warn("plugin failed validation", "plugin", pluginID, "reason", verr.Reason(), "line", verr.Line)
	}
	return verr
}

// Forget drops the cached verdict for pluginID.
func (s *Sandbox) Forget(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verdicts, pluginID)
}

// ValidateSource parses src, chosen by the file name's extension, and
// checks it without caching. It returns false and the refusal reason
// ("Forbidden import: os") on a violation.
func (s *Sandbox) ValidateSource(filename string, src []byte) (bool, string, error) {
	lang := plugin.LanguageForFile(filename)

	var (
		info *plugin.SourceInfo
		err  error
	)
	switch lang {
	case plugin.LanguageLua:
		info, err = lua.Inspect(filename, src)
	case plugin.LanguageJavaScript:
		info, err = js.Inspect(filename, src)
	default:
		return false, "", fmt.Errorf("%w: %s is not executable", plugin.ErrUnsupportedFormat, filename)
	}
	if err != nil {
		return false, "", err
	}

	if verr := s.policy.Check(lang, info); verr != nil {
		return false, verr.Reason(), nil
	}
	return true, "", nil
}

// Run validates prog (when enabled) and runs it with a fresh scoped
// directory under deadline. A zero deadline means the configured timeout.
// The returned Outcome is never nil. Errors are a *plugin.ValidationError,
// a *plugin.TimeoutError, the program's own error, or ctx's error.
func (s *Sandbox) Run(ctx context.Context, prog plugin.Program, execCtx plugin.ExecutionContext, deadline time.Duration) (*Outcome, error) {
	pluginID := execCtx.PluginID
	out := &Outcome{Phase: PhaseIdle}
	start := time.Now()
	defer func() {
		out.Elapsed = time.Since(start)
	}()

	s.enter(out, PhaseValidating, pluginID)
	if s.cfg.Validate {
		if insp, ok := prog.(Inspected); ok {
			if verr := s.Validate(pluginID, insp); verr != nil {
				s.enter(out, PhaseFailed, pluginID)
				return out, verr
			}
		}
	}

	if deadline <= 0 {
		deadline = s.cfg.Timeout
	}

	dir, err := s.makeTempDir()
	if err != nil {
		s.enter(out, PhaseFailed, pluginID)
		return out, err
	}
	out.Dir = dir
	defer s.removeTempDir(dir)

	limits := s.cfg.Limits
	limits.ExecutionTimeout = deadline
	monitor := security.NewResourceMonitor(limits)
	files := newScopedFiles(pluginID, dir, monitor, s.cfg.Capabilities)
	output := &runOutput{log: s.output, pluginID: pluginID, monitor: monitor}
	env := &plugin.Env{
		Context: execCtx,
		Files:   files,
	}
	if files.checker.HasCapability(security.CapabilityOutput) {
		env.Output = output
	}

	s.enter(out, PhaseRunning, pluginID)
	result, err := s.run(ctx, prog, env, deadline)
	out.Output = output.Lines()
	out.Usage = monitor.Usage()

	switch {
	case err == nil:
		out.Result = result
		s.enter(out, PhaseCompleted, pluginID)
	case errors.Is(err, plugin.ErrTimeout):
		s.enter(out, PhaseTimedOut, pluginID)
	default:
		s.enter(out, PhaseFailed, pluginID)
	}
	return out, err
}

type runResult struct {
	value any
	err   error
}

// run executes prog on its own goroutine and waits for it or the deadline.
func (s *Sandbox) run(ctx context.Context, prog plugin.Program, env *plugin.Env, deadline time.Duration) (any, error) {
	pluginID := env.Context.PluginID
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: &plugin.ExecutionError{PluginID: pluginID, Message: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		v, err := prog.Run(runCtx, env)
		done <- runResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return settle(ctx, r, pluginID, deadline)
	case <-runCtx.Done():
	}

	// The runtime has been interrupted; let it unwind
	grace := time.NewTimer(s.cfg.KillGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.logger.Warn("plugin did not stop within grace period", "plugin", pluginID, "grace", s.cfg.KillGrace)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &plugin.TimeoutError{PluginID: pluginID, Deadline: deadline}
}

// settle maps a finished run to its result.
func settle(ctx context.Context, r runResult, pluginID string, deadline time.Duration) (any, error) {
	switch {
	case r.err == nil:
		return r.value, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(r.err, context.DeadlineExceeded):
		return nil, &plugin.TimeoutError{PluginID: pluginID, Deadline: deadline}
	default:
		return nil, r.err
	}
}

func (s *Sandbox) enter(out *Outcome, phase Phase, pluginID string) {
	out.Phase = phase
	s.logger.Debug("sandbox phase", "plugin", pluginID, "phase", phase)
}

func (s *Sandbox) makeTempDir() (string, error) {
	parent := s.cfg.TempDir
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	dir := filepath.Join(parent, TempDirPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("create sandbox dir: %w", err)
	}
	return dir, nil
}

func (s *Sandbox) removeTempDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error("failed to remove sandbox dir", "dir", dir, "error", err)
	}
}
