package config

import "time"

// PathsConfig locates plugforge's on-disk state.
type PathsConfig struct {
	// PluginsDir holds one directory per installed plugin.
	PluginsDir string

	// TempDir is the parent of per-run sandbox directories.
	TempDir string

	// LogsDir holds plugin_executions.log and sandbox.log.
	LogsDir string

	// Database is the SQLite descriptor store.
	Database string
}

// SandboxConfig controls validation and per-run limits.
type SandboxConfig struct {
	// Enabled turns static validation on. The runtime restrictions and the
	// deadline apply either way.
	Enabled bool

	// Timeout is the default execution deadline.
	Timeout time.Duration

	// KillGrace is how long an interrupted run may take to unwind.
	KillGrace time.Duration

	// MaxOutputSize bounds printed output per run, in bytes.
	MaxOutputSize int64

	// FileOpsPerSecond bounds file operations per run.
	FileOpsPerSecond int

	// MaxFileSize bounds bytes written per run.
	MaxFileSize int64

	// Capabilities are granted to every run: "filesystem" (or one of
	// "filesystem.read" and "filesystem.write") and "output".
	Capabilities []string
}

// DepsConfig configures the package installers.
type DepsConfig struct {
	NPMCommand      string
	NPMPrefix       string
	LuaRocksCommand string
	LuaRocksTree    string

	// InstallTimeout bounds each package install.
	InstallTimeout time.Duration
}

// LoaderConfig configures the plugin registry.
type LoaderConfig struct {
	// Watch reloads plugins when their directories change. When false the
	// watch command keeps the registry as first loaded.
	Watch bool

	// Debounce is how long a changed directory must settle before reload.
	Debounce time.Duration
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string
	JSON  bool
}
