// Package loader owns the registry of loaded plugins.
//
// Each installed plugin lives in its own directory under the plugins root,
// keyed by id:
//
//	<pluginsDir>/<id>/entry.lua (or entry.js, or the manifest's entry)
//	<pluginsDir>/<id>/manifest.json (optional)
//
// Loading compiles the entry source in its own runtime and merges metadata
// with precedence entry constants > manifest > persisted descriptor >
// defaults. Loading an id that is already registered returns the existing
// entry; Reload replaces it.
//
// Execute resolves a plugin (lazily loading it through a Catalog when it is
// not registered), hands it to the sandbox and appends exactly one
// execution record per call to every configured RecordSink, including the
// NDJSON execution log.
//
// The registry is guarded by a read-write mutex. Compilation happens
// outside the lock and entries are swapped in whole, so a concurrent
// Execute never observes a half-updated plugin.
package loader
