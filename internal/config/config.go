package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/plugforge/internal/config/loader"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// DefaultFile is read when no path is given and PLUGFORGE_CONFIG is unset.
const DefaultFile = "plugforge.toml"

// Config is the resolved plugforge configuration.
type Config struct {
	Paths   PathsConfig
	Sandbox SandboxConfig
	Deps    DepsConfig
	Loader  LoaderConfig
	Logging LoggingConfig

	// File is the configuration file that was read. Empty when none existed.
	File string
}

// defaultConfig returns the built-in settings as a raw map.
func defaultConfig() map[string]any {
	return map[string]any{
		"paths": map[string]any{
			"pluginsDir": "plugins/installed",
			"tempDir":    "plugins/temp",
			"logsDir":    "storage/logs",
			"database":   "storage/plugforge.db",
		},
		"sandbox": map[string]any{
			"enabled":          true,
			"timeout":          "30s",
			"killGrace":        "250ms",
			"maxOutputSize":    int64(1 << 20),
			"fileOpsPerSecond": int64(100),
			"maxFileSize":      int64(64 << 20),
			"capabilities":     []any{"filesystem", "output"},
		},
		"deps": map[string]any{
			"npmCommand":      "npm",
			"npmPrefix":       "plugins/node",
			"luarocksCommand": "luarocks",
			"luarocksTree":    "plugins/lua",
			"installTimeout":  "5m",
		},
		"loader": map[string]any{
			"watch":    true,
			"debounce": "100ms",
		},
		"logging": map[string]any{
			"level": "info",
			"json":  false,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromMap(defaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load resolves the configuration from defaults, the TOML file at path and
// the environment. An empty path falls back to PLUGFORGE_CONFIG and then
// DefaultFile. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = loader.GetEnvOrDefault(loader.ConfigEnv, DefaultFile)
	}
	return load(loader.NewTOMLLoader(path), loader.NewEnvLoader(loader.Prefix), path)
}

func load(file *loader.TOMLLoader, env *loader.EnvLoader, path string) (*Config, error) {
	fileData, err := file.Load()
	if err != nil {
		return nil, err
	}
	envData, err := env.Load()
	if err != nil {
		return nil, err
	}

	data := loader.DeepMerge(defaultConfig(), fileData)
	data = loader.DeepMerge(data, envData)

	cfg, err := FromMap(data)
	if err != nil {
		return nil, err
	}
	if fileData != nil {
		cfg.File = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromMap decodes raw settings. Missing keys keep their zero values; all
// type mismatches are reported together.
func FromMap(data map[string]any) (*Config, error) {
	d := &decoder{data: data}
	cfg := &Config{}

	d.path("paths.pluginsDir", &cfg.Paths.PluginsDir)
	d.path("paths.tempDir", &cfg.Paths.TempDir)
	d.path("paths.logsDir", &cfg.Paths.LogsDir)
	d.path("paths.database", &cfg.Paths.Database)

	d.bool("sandbox.enabled", &cfg.Sandbox.Enabled)
	d.duration("sandbox.timeout", &cfg.Sandbox.Timeout)
	d.duration("sandbox.killGrace", &cfg.Sandbox.KillGrace)
	d.int64("sandbox.maxOutputSize", &cfg.Sandbox.MaxOutputSize)
	d.int("sandbox.fileOpsPerSecond", &cfg.Sandbox.FileOpsPerSecond)
	d.int64("sandbox.maxFileSize", &cfg.Sandbox.MaxFileSize)
	d.stringList("sandbox.capabilities", &cfg.Sandbox.Capabilities)

	d.string("deps.npmCommand", &cfg.Deps.NPMCommand)
	d.path("deps.npmPrefix", &cfg.Deps.NPMPrefix)
	d.string("deps.luarocksCommand", &cfg.Deps.LuaRocksCommand)
	d.path("deps.luarocksTree", &cfg.Deps.LuaRocksTree)
	d.duration("deps.installTimeout", &cfg.Deps.InstallTimeout)

	d.bool("loader.watch", &cfg.Loader.Watch)
	d.duration("loader.debounce", &cfg.Loader.Debounce)

	d.string("logging.level", &cfg.Logging.Level)
	d.bool("logging.json", &cfg.Logging.JSON)

	if err := errors.Join(d.errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks the settings plugforge cannot run without.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Paths.PluginsDir != "", "paths.pluginsDir must be set")
	check(c.Paths.Database != "", "paths.database must be set")
	check(c.Sandbox.Timeout > 0, "sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	check(c.Sandbox.KillGrace >= 0, "sandbox.killGrace must not be negative")
	check(c.Sandbox.MaxOutputSize >= 0, "sandbox.maxOutputSize must not be negative")
	check(c.Sandbox.FileOpsPerSecond >= 0, "sandbox.fileOpsPerSecond must not be negative")
	check(c.Sandbox.MaxFileSize >= 0, "sandbox.maxFileSize must not be negative")
	for _, name := range c.Sandbox.Capabilities {
		check(security.IsValidCapability(security.Capability(name)),
			"sandbox.capabilities: unknown capability %q", name)
	}
	check(c.Deps.InstallTimeout > 0, "deps.installTimeout must be positive, got %s", c.Deps.InstallTimeout)
	check(c.Loader.Debounce > 0, "loader.debounce must be positive, got %s", c.Loader.Debounce)
	check(hclog.LevelFromString(c.Logging.Level) != hclog.NoLevel,
		"logging.level %q is not a log level", c.Logging.Level)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// decoder reads typed values out of a nested settings map.
type decoder struct {
	data map[string]any
	errs []error
}

func (d *decoder) lookup(path string) (any, bool) {
	var cur any = d.data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (d *decoder) fail(path, expected string, v any) {
	d.errs = append(d.errs, &TypeError{Path: path, Expected: expected, Actual: typeName(v)})
}

func (d *decoder) string(path string, dst *string) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		d.fail(path, "string", v)
		return
	}
	*dst = s
}

// stringList reads a list of strings. A single string is split on commas,
// as environment variables deliver lists.
func (d *decoder) stringList(path string, dst *[]string) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				d.fail(path, "array of strings", v)
				return
			}
			out = append(out, s)
		}
	case string:
		for _, s := range strings.Split(list, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	default:
		d.fail(path, "array of strings", v)
		return
	}
	*dst = out
}

// path reads a string and expands environment references in it.
func (d *decoder) path(path string, dst *string) {
	d.string(path, dst)
	*dst = os.ExpandEnv(*dst)
}

func (d *decoder) bool(path string, dst *bool) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch b := v.(type) {
	case bool:
		*dst = b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			d.fail(path, "bool", v)
			return
		}
		*dst = parsed
	case int64:
		if b != 0 && b != 1 {
			d.fail(path, "bool", v)
			return
		}
		*dst = b == 1
	default:
		d.fail(path, "bool", v)
	}
}

func (d *decoder) int64(path string, dst *int64) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		*dst = n
	case int:
		*dst = int64(n)
	case float64:
		if n != math.Trunc(n) {
			d.fail(path, "int", v)
			return
		}
		*dst = int64(n)
	default:
		d.fail(path, "int", v)
	}
}

func (d *decoder) int(path string, dst *int) {
	n := int64(*dst)
	d.int64(path, &n)
	*dst = int(n)
}

// duration accepts duration strings, time.Duration values and integer
// seconds.
func (d *decoder) duration(path string, dst *time.Duration) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch t := v.(type) {
	case time.Duration:
		*dst = t
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			d.fail(path, "duration", v)
			return
		}
		*dst = parsed
	case int64:
		*dst = time.Duration(t) * time.Second
	case int:
		*dst = time.Duration(t) * time.Second
	default:
		d.fail(path, "duration", v)
	}
}
