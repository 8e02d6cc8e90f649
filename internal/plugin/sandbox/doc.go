// Package sandbox runs compiled plugin entry code under a deadline.
//
// Each Run moves through the phases Idle, Validating, Running and one of
// Completed, Failed or TimedOut:
//
//   - Validating checks the program's syntax walk against the security
//     policy. The verdict is cached per plugin id and program. A violation
//     ends the run before any resource is allocated.
//   - Running creates a fresh sandbox_<uuid> directory, hands the program
//     a file capability scoped to it plus an output writer feeding the
//     shared diagnostic log, and runs the program on its own goroutine.
//
// When the deadline passes, the program's context is cancelled. Both
// runtimes stop at their next instruction boundary; the sandbox waits at
// most the kill grace for that before returning a TimeoutError. The
// temporary directory is removed on every path.
package sandbox
