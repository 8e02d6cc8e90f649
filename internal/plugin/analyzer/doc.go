// Package analyzer turns an uploaded plugin artifact into a descriptor.
//
// An artifact is either a single source file (.lua, .js, .sh) or an
// archive (.zip, .tar, .tar.gz, .tgz, .tar.lz4). Archives are extracted
// into a temporary directory that is removed before Analyze returns.
// Inside an archive the descriptor comes from, in order:
//
//   - a manifest (manifest.json, plugin.json, manifest.yaml)
//   - a project descriptor (package.json or a *.rockspec)
//   - the first source file of a supported language
//
// Source files are parsed, never executed. Metadata constants such as
// PLUGIN_NAME, required modules and credential hints are read from the
// syntax tree or, for shell scripts, from comment markers.
package analyzer
