// Package config provides plugforge's typed configuration.
//
// Values are layered, later layers winning:
//
//  1. Built-in defaults
//  2. The TOML file (plugforge.toml, or --config / PLUGFORGE_CONFIG),
//     including any files it names with "@include"
//  3. PLUGFORGE_ environment variables
//
// Example file:
//
//	[paths]
//	pluginsDir = "/srv/plugforge/plugins"
//
//	[sandbox]
//	timeout = "10s"
//	maxOutputSize = 65536
//	capabilities = ["filesystem.read", "output"]
//
//	[deps]
//	luarocksTree = "/srv/plugforge/rocks"
//
// Durations accept Go duration strings; bare integers are seconds.
// Path settings expand $VAR references.
package config
