package sandbox

// Phase is the state of one sandboxed invocation.
type Phase int

// Invocation phases.
const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseRunning
	PhaseCompleted
	PhaseFailed
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the phase ends an invocation.
func (p Phase) IsTerminal() bool {
	return p >= PhaseCompleted
}
