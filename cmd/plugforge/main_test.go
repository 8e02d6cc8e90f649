package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugforge/internal/app"
	"github.com/dshills/plugforge/internal/integration/process"
	"github.com/dshills/plugforge/internal/plugin"
)

const greeterLua = `
PLUGIN_NAME = "Greeter"
PLUGIN_VERSION = "1.0.0"

function execute(ctx)
  return {success = true, greeting = "hello " .. ctx.user_id, name = ctx.input.name}
end
`

// staticRocks reports a fixed luarocks tree and refuses installs.
type staticRocks string

func (s staticRocks) Run(_ context.Context, name string, _ *exec.Cmd) (*process.Result, error) {
	if name == "luarocks list" {
		return &process.Result{Output: string(s)}, nil
	}
	return nil, fmt.Errorf("%s: not permitted in tests", name)
}

type harness struct {
	t      *testing.T
	root   string
	config string
	opts   app.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := fmt.Sprintf(`
[paths]
pluginsDir = %q
tempDir = %q
logsDir = %q
database = %q

[sandbox]
timeout = "5s"

[logging]
level = "error"
`,
		filepath.Join(root, "installed"),
		filepath.Join(root, "temp"),
		filepath.Join(root, "logs"),
		filepath.Join(root, "plugforge.db"))

	path := filepath.Join(root, "plugforge.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &harness{t: t, root: root, config: path, opts: app.Options{Runner: staticRocks("")}}
}

func (h *harness) file(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.root, name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) exec(args ...string) (string, string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(h.opts)
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (h *harness) mustExec(args ...string) string {
	h.t.Helper()
	out, stderr, err := h.exec(args...)
	require.NoError(h.t, err, "stderr: %s", stderr)
	return out
}

func TestVersionCommand(t *testing.T) {
	out := newHarness(t).mustExec("version")
	assert.Contains(t, out, "plugforge dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestAnalyze(t *testing.T) {
	h := newHarness(t)
	artifact := h.file("greeter.lua", greeterLua)

	out := h.mustExec("analyze", artifact)
	var d plugin.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "greeter", d.ID)
	assert.Equal(t, "1.0.0", d.Version)
	assert.Equal(t, plugin.LanguageLua, d.Language)

	assert.Contains(t, h.mustExec("list"), "no plugins")
	h.mustExec("analyze", "--save", artifact)
	assert.Contains(t, h.mustExec("list", "--state", "analyzed"), "greeter")
}

func TestInstallAndRun(t *testing.T) {
	h := newHarness(t)
	artifact := h.file("greeter.lua", greeterLua)

	_, _, err := h.exec("install", artifact)
	require.ErrorIs(t, err, app.ErrNotApproved)

	out := h.mustExec("install", "--approve", artifact)
	assert.Contains(t, out, "installed greeter@1.0.0 (installed)")

	list := h.mustExec("list", "--language", "lua")
	assert.Contains(t, list, "greeter")
	assert.Contains(t, list, "installed")

	out = h.mustExec("run", "greeter", "--user", "ada", "--input", `{"name": "Ada"}`)
	var res plugin.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Success, "error: %s", res.Error)
	payload := res.Payload.(map[string]any)
	assert.Equal(t, "hello ada", payload["greeting"])
	assert.Equal(t, "Ada", payload["name"])

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.mustExec("info", "greeter")), &info))
	assert.Equal(t, "loaded", info["state"])
	assert.Equal(t, "Greeter", info["name"])

	assert.Contains(t, h.mustExec("executions", "greeter"), "success")
}

func TestRunErrors(t *testing.T) {
	h := newHarness(t)
	h.mustExec("install", "--approve", h.file("greeter.lua", greeterLua))

	_, _, err := h.exec("run", "greeter", "--input", "{bad")
	assert.ErrorContains(t, err, "parse --input")

	out, _, err := h.exec("run", "missing")
	require.ErrorIs(t, err, plugin.ErrPluginNotFound)
	assert.Contains(t, out, `"success": false`)
}

func TestInfoUnknown(t *testing.T) {
	_, _, err := newHarness(t).exec("info", "ghost")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestValidate(t *testing.T) {
	h := newHarness(t)

	out := h.mustExec("validate", h.file("greeter.lua", greeterLua))
	assert.Contains(t, out, "ok:")

	bad := h.file("net.lua", `local http = require("socket.http")
function execute(ctx) return http.request("x") end`)
	_, _, err := h.exec("validate", bad)
	assert.ErrorContains(t, err, "Forbidden import: socket.http")

	_, _, err = h.exec("validate", h.file("tool.sh", "echo hi\n"))
	assert.ErrorIs(t, err, plugin.ErrUnsupportedFormat)
}

func TestTransitions(t *testing.T) {
	h := newHarness(t)
	artifact := h.file("greeter.lua", greeterLua)
	h.mustExec("analyze", "--save", artifact)

	assert.Contains(t, h.mustExec("reject", "greeter"), "greeter is rejected")

	_, _, err := h.exec("install", "--approve", artifact)
	assert.ErrorIs(t, err, plugin.ErrInvalidTransition)

	_, _, err = h.exec("approve", "greeter")
	assert.ErrorIs(t, err, plugin.ErrInvalidTransition)
}

func TestUninstall(t *testing.T) {
	h := newHarness(t)
	h.mustExec("install", "--approve", h.file("greeter.lua", greeterLua))

	assert.Contains(t, h.mustExec("uninstall", "greeter"), "uninstalled greeter")
	assert.NoDirExists(t, filepath.Join(h.root, "installed", "greeter"))
	assert.Contains(t, h.mustExec("list"), "no plugins")

	_, _, err := h.exec("uninstall", "greeter")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestDepsCheck(t *testing.T) {
	h := newHarness(t)
	h.opts.Runner = staticRocks("lpeg\t1.1.0\tinstalled\t/tree\n")

	assert.Contains(t, h.mustExec("deps", "check", "lpeg>=1.0.0"), "all requirements satisfied")

	out, _, err := h.exec("deps", "check", "lpeg>=1.0.0", "luasocket>=3.0.0")
	assert.ErrorContains(t, err, "1 of 2 requirements missing")
	assert.Contains(t, out, "missing: luasocket>=3.0.0")

	_, _, err = h.exec("deps", "install", "luasocket>=3.0.0")
	assert.ErrorContains(t, err, "luasocket")

	_, _, err = h.exec("deps", "check", "--language", "shell", "x")
	assert.ErrorContains(t, err, "unsupported language")
}

func TestDepsManifest(t *testing.T) {
	h := newHarness(t)

	out := h.mustExec("deps", "manifest", "lpeg>=1.0.0", "lua-cjson")
	assert.Equal(t, "lpeg>=1.0.0\nlua-cjson\n", out)

	out = h.mustExec("deps", "manifest", "-l", "javascript", "--name", "bundle", "lodash@^4.17.21")
	var pkg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pkg))
	assert.Equal(t, "bundle", pkg["name"])
	assert.Contains(t, pkg["dependencies"], "lodash")
}
