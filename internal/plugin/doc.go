// Package plugin defines the shared model of the plugforge plugin subsystem.
//
// The subsystem turns an uploaded artifact into a running plugin:
//
//	artifact -> analyzer -> Descriptor -> deps (install requirements)
//	         -> loader (import + register) -> sandbox (validate, run)
//
// This package holds the types every stage exchanges and nothing else:
//   - Descriptor: name, version, author, category, requirements, inferred
//     credential hints and the language tag
//   - Manifest helpers reading manifest.json, plugin.json or manifest.yaml
//   - State: the lifecycle state machine
//   - ExecutionContext, ExecutionResult and ExecutionRecord
//   - SourceInfo, Program, Env and FileAccess, the contract between the
//     language runtimes and the sandbox
//   - the error taxonomy (AnalysisError, LoadError, ValidationError,
//     ExecutionError, TimeoutError)
//
// # Plugin Layout
//
// Installed plugins live in one directory each, keyed by id:
//
//	plugins/installed/
//	└── image-tools/
//	    ├── manifest.json   # optional
//	    └── entry.lua       # or entry.js
//
// # Metadata Precedence
//
// Metadata is merged with Merge, first layer wins per field:
//
//	d := plugin.Merge(plugin.FromConstants(info.Constants), manifest)
//
// Fields absent from every layer fall back to "Unknown Plugin", "1.0.0",
// "Unknown" and "General".
//
// # Lifecycle
//
//	Uploaded -> Analyzed -> {Approved, Rejected}
//	Approved -> Installed -> Loaded
//	Loaded -> {Active, Inactive, Archived}
package plugin
