// Package security provides the deny tables and run-time guards applied
// to plugin code.
//
// # Policy
//
// Policy is a data table, keyed by language, of forbidden imports,
// forbidden calls, the builtins a fresh runtime keeps, and the sanctioned
// modules require may serve. Check compares a syntax walk of entry code
// against it and reports the first violation.
//
// # Capabilities
//
// Capabilities name what the sandbox injects into a run. They are
// hierarchical: granting "filesystem" implies "filesystem.read" and
// "filesystem.write".
//
// # Permissions
//
// PermissionChecker scopes file access to the run's temporary directory:
//
//   - relative paths resolve inside the workspace
//   - any ".." element is rejected
//   - absolute paths must already lie inside the workspace
//   - DefaultBlockedPaths are never reachable
//
// # Resource Limits
//
// ResourceMonitor caps the diagnostic output of one run, the size of each
// written file, and the rate of file operations.
//
// Example usage:
//
//	checker := security.NewPermissionChecker("image-tools", tempDir)
//	checker.GrantAll(security.DefaultCapabilities())
//
//	abs, err := checker.ResolveWrite("out/result.png")
//	if err != nil {
//	    // Access denied
//	}
package security
