package plugin

import "fmt"

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUploaded - Artifact received, not yet inspected.
	StateUploaded State = iota

	// StateAnalyzed - Descriptor extracted, awaiting approval.
	StateAnalyzed

	// StateApproved - Approved for installation.
	StateApproved

	// StateRejected - Rejected by the approval workflow. Terminal.
	StateRejected

	// StateInstalled - Unpacked into the plugins root with requirements reconciled.
	StateInstalled

	// StateLoaded - Entry code imported into the registry.
	StateLoaded

	// StateActive - Loaded and accepting executions.
	StateActive

	// StateInactive - Loaded but disabled by an operator.
	StateInactive

	// StateArchived - Retired. Terminal.
	StateArchived
)

var stateNames = map[State]string{
	StateUploaded:  "uploaded",
	StateAnalyzed:  "analyzed",
	StateApproved:  "approved",
	StateRejected:  "rejected",
	StateInstalled: "installed",
	StateLoaded:    "loaded",
	StateActive:    "active",
	StateInactive:  "inactive",
	StateArchived:  "archived",
}

// transitions lists the allowed successor states.
var transitions = map[State][]State{
	StateUploaded:  {StateAnalyzed},
	StateAnalyzed:  {StateApproved, StateRejected},
	StateApproved:  {StateInstalled},
	StateInstalled: {StateLoaded},
	StateLoaded:    {StateActive, StateInactive, StateArchived},
	StateActive:    {StateInactive, StateArchived},
	StateInactive:  {StateActive, StateArchived},
}

// String returns a string representation of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState converts a state name back into a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateUploaded, fmt.Errorf("unknown plugin state %q", name)
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states with no successors.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsUsable returns true if the plugin can be executed.
func (s State) IsUsable() bool {
	return s == StateLoaded || s == StateActive
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
