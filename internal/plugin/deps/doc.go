// Package deps reconciles plugin requirements against installed packages.
//
// A Manager keeps a snapshot of installed package versions, keyed by
// lowercased name, taken from an Installer. Reconcile installs whatever
// the snapshot does not satisfy, one package at a time. A failed install
// is retried once without its version constraint and then reported; it
// never aborts the batch. The snapshot is refreshed after every batch.
//
// Two installers are provided: NPMInstaller for JavaScript plugins and
// LuaRocksInstaller for Lua plugins. Both run their package manager
// through a Runner, normally a *process.Supervisor.
//
// Specifiers follow either the comparison form ("lpeg>=1.0", "x ~= 1.4")
// or the npm form ("left-pad@^1.3", "@scope/pkg@latest").
package deps
