package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Result describes a finished process.
type Result struct {
	ID       string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Supervisor starts and tracks child processes. It is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	shutdown chan struct{}
	closed   atomic.Bool

	// maxProcesses limits concurrent processes (0 = unlimited)
	maxProcesses  int
	onProcessExit func(p *Process)
	logger        hclog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(logger hclog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		shutdown:  make(chan struct{}),
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts a tracked process. Unset stdout and stderr are captured
// into the process output.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("process limit reached: %d", s.maxProcesses)
	}

	proc := NewProcess(uuid.NewString(), name, cmd)
	if err := proc.start(); err != nil {
		return nil, err
	}
	s.processes[proc.ID] = proc
	s.logger.Debug("process started", "id", proc.ID, "name", name, "pid", proc.PID())

	go s.monitorProcess(proc)
	return proc, nil
}

// Run starts cmd and waits for it. When ctx is done first, the process
// tree is killed and ctx.Err() is returned. A non-zero exit is an
// *ExitError carrying the captured output.
func (s *Supervisor) Run(ctx context.Context, name string, cmd *exec.Cmd) (*Result, error) {
	proc, err := s.Start(name, cmd)
	if err != nil {
		return nil, err
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		s.logger.Warn("killing process tree", "id", proc.ID, "name", name, "reason", ctx.Err())
		if err := proc.KillTree(context.Background()); err != nil {
			s.logger.Error("kill process tree", "id", proc.ID, "error", err)
		}
		<-proc.Done()
		return nil, ctx.Err()
	}

	res := &Result{
		ID:       proc.ID,
		Output:   proc.Output(),
		ExitCode: proc.ExitCode(),
		Duration: proc.Runtime(),
	}
	if res.ExitCode != 0 {
		return res, &ExitError{Name: name, Code: res.ExitCode, Output: res.Output}
	}
	return res, nil
}

func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()
	s.logger.Debug("process exited", "id", proc.ID, "name", proc.Name,
		"code", proc.ExitCode(), "state", proc.State(), "duration", proc.Runtime())

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("process exit callback panicked", "id", proc.ID, "panic", r)
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all running processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of running processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Kill kills a process tree by ID.
func (s *Supervisor) Kill(id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	return proc.KillTree(context.Background())
}

// Shutdown refuses new processes, kills every running tree and waits up
// to timeout for them to exit.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	close(s.shutdown)

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, p := range procs {
		if err := p.KillTree(ctx); err != nil {
			s.logger.Error("kill process tree", "id", p.ID, "error", err)
		}
	}
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-ctx.Done():
			s.logger.Warn("process did not exit before shutdown timeout", "id", p.ID, "name", p.Name)
			return
		}
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// ShutdownChan returns a channel that is closed when shutdown begins.
func (s *Supervisor) ShutdownChan() <-chan struct{} {
	return s.shutdown
}
