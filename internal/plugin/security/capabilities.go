// Package security provides security primitives for the plugin system.
package security

import (
	"fmt"
	"strings"
)

// Capability is an operation the sandbox may inject into a run.
// Capabilities are hierarchical - granting a parent capability
// implicitly grants all child capabilities.
type Capability string

// Capabilities the sandbox knows how to inject.
const (
	// CapabilityFiles grants every file capability below.
	CapabilityFiles Capability = "filesystem"

	// CapabilityFileRead allows reading files inside the scoped directory.
	CapabilityFileRead Capability = "filesystem.read"

	// CapabilityFileWrite allows creating, appending and removing files inside the scoped directory.
	CapabilityFileWrite Capability = "filesystem.write"

	// CapabilityOutput allows writing to the diagnostic log.
	CapabilityOutput Capability = "output"
)

// RiskLevel indicates the security risk of a capability.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	Name        Capability
	Description string
	Parent      Capability
	RiskLevel   RiskLevel
}

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityFiles: {
		Name:        CapabilityFiles,
		Description: "Scoped file access",
		RiskLevel:   RiskMedium,
	},
	CapabilityFileRead: {
		Name:        CapabilityFileRead,
		Description: "Read files in the invocation directory",
		Parent:      CapabilityFiles,
		RiskLevel:   RiskLow,
	},
	CapabilityFileWrite: {
		Name:        CapabilityFileWrite,
		Description: "Write files in the invocation directory",
		Parent:      CapabilityFiles,
		RiskLevel:   RiskMedium,
	},
	CapabilityOutput: {
		Name:        CapabilityOutput,
		Description: "Write lines to the diagnostic log",
		RiskLevel:   RiskLow,
	},
}

// DefaultCapabilities returns the capabilities granted to every run.
func DefaultCapabilities() []Capability {
	return []Capability{CapabilityFiles, CapabilityOutput}
}

// GetCapabilityInfo returns information about a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability is known.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// IsChildOf returns true if child is a child of parent.
func IsChildOf(child, parent Capability) bool {
	return strings.HasPrefix(string(child), string(parent)+".")
}

// ImpliesCapability returns true if having 'granted' implies having 'required'.
func ImpliesCapability(granted, required Capability) bool {
	if granted == required {
		return true
	}
	return IsChildOf(required, granted)
}

// CapabilityError represents a capability-related error.
type CapabilityError struct {
	Capability Capability
	Operation  string
	Message    string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("capability %q required for %s: %s", e.Capability, e.Operation, e.Message)
	}
	return fmt.Sprintf("capability %q: %s", e.Capability, e.Message)
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(cap Capability, operation, message string) *CapabilityError {
	return &CapabilityError{
		Capability: cap,
		Operation:  operation,
		Message:    message,
	}
}
