package security

import (
	"path/filepath"
	"strings"
	"sync"
)

// DefaultBlockedPaths are system roots no run may touch, even through an
// absolute path that happens to resolve inside them.
var DefaultBlockedPaths = []string{"/etc", "/root", "/proc", "/sys", "/dev"}

// PermissionChecker scopes file access for a single run to one directory.
type PermissionChecker struct {
	mu sync.RWMutex

	// Granted capabilities
	capabilities map[Capability]bool

	// File system restrictions (normalized absolute paths)
	blockedPaths  []string
	workspacePath string

	pluginID string
}

// NewPermissionChecker creates a checker for one run of pluginID scoped to
// workspace, with DefaultBlockedPaths applied.
func NewPermissionChecker(pluginID, workspace string) *PermissionChecker {
	pc := &PermissionChecker{
		capabilities:  make(map[Capability]bool),
		workspacePath: normalizePath(workspace),
		pluginID:      pluginID,
	}
	for _, p := range DefaultBlockedPaths {
		pc.blockedPaths = append(pc.blockedPaths, normalizePath(p))
	}
	return pc
}

// PluginID returns the plugin the checker was created for.
func (pc *PermissionChecker) PluginID() string {
	return pc.pluginID
}

// Workspace returns the scoped directory.
func (pc *PermissionChecker) Workspace() string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.workspacePath
}

// Grant grants a capability.
func (pc *PermissionChecker) Grant(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.capabilities[cap] = true
}

// GrantAll grants multiple capabilities.
func (pc *PermissionChecker) GrantAll(caps []Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, cap := range caps {
		pc.capabilities[cap] = true
	}
}

// HasCapability returns true if the capability is granted directly or
// through a parent.
func (pc *PermissionChecker) HasCapability(cap Capability) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	if pc.capabilities[cap] {
		return true
	}
	for granted := range pc.capabilities {
		if ImpliesCapability(granted, cap) {
			return true
		}
	}
	return false
}

// CheckCapability returns an error if the capability is not granted.
func (pc *PermissionChecker) CheckCapability(cap Capability) error {
	if !pc.HasCapability(cap) {
		return NewCapabilityError(cap, "", "not granted")
	}
	return nil
}

// BlockPath adds a path to the blocked list.
func (pc *PermissionChecker) BlockPath(path string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.blockedPaths = append(pc.blockedPaths, normalizePath(path))
}

// ResolveRead maps a plugin-supplied path to an absolute path inside the
// workspace, or returns an error if reading it is not permitted.
func (pc *PermissionChecker) ResolveRead(path string) (string, error) {
	if !pc.HasCapability(CapabilityFileRead) {
		return "", NewCapabilityError(CapabilityFileRead, "read file", "not granted")
	}
	return pc.resolve(path, CapabilityFileRead, "read")
}

// ResolveWrite maps a plugin-supplied path to an absolute path inside the
// workspace, or returns an error if writing it is not permitted.
func (pc *PermissionChecker) ResolveWrite(path string) (string, error) {
	if !pc.HasCapability(CapabilityFileWrite) {
		return "", NewCapabilityError(CapabilityFileWrite, "write file", "not granted")
	}
	return pc.resolve(path, CapabilityFileWrite, "write")
}

func (pc *PermissionChecker) resolve(path string, cap Capability, operation string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", NewCapabilityError(cap, operation, "empty path")
	}
	if hasParentRef(path) {
		return "", NewCapabilityError(cap, operation, "parent directory references are not allowed")
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(pc.workspacePath, target)
	}
	target = filepath.Clean(target)

	// A blocked root that contains the workspace itself is not enforced.
	for _, blocked := range pc.blockedPaths {
		if isWithinPath(pc.workspacePath, blocked) {
			continue
		}
		if isWithinPath(target, blocked) {
			return "", NewCapabilityError(cap, operation, "path is blocked")
		}
	}

	if !isWithinPath(target, pc.workspacePath) {
		return "", NewCapabilityError(cap, operation, "path outside workspace")
	}
	return target, nil
}

// hasParentRef reports whether any element of path is "..".
func hasParentRef(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

// normalizePath returns an absolute, clean path.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// isWithinPath checks if target is within or equal to base using filepath.Rel.
// "/tmp/blocked" does not match "/tmp/blockedfile".
func isWithinPath(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
