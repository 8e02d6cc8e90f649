package js

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/plugintest"
)

func run(t *testing.T, src string) (any, *plugintest.MemFiles, *plugintest.Lines, error) {
	t.Helper()
	prog, err := Compile("entry.js", []byte(src), nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	env, files, out := plugintest.NewEnv()
	result, err := prog.Run(context.Background(), env)
	return result, files, out, err
}

func TestRunReturnsPayload(t *testing.T) {
	result, _, _, err := run(t, `
function execute(ctx) {
  return { success: true, user: ctx.user_id, text: ctx.input.text, dir: ctx.temp_dir };
}
`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result = %T", result)
	}
	if m["user"] != "u1" || m["text"] != "hello world" || m["success"] != true {
		t.Errorf("result = %v", m)
	}
	if m["dir"] != "/tmp/sandbox_test" {
		t.Errorf("temp_dir = %v", m["dir"])
	}
}

func TestRunEntryForms(t *testing.T) {
	tests := map[string]string{
		"exports":       "exports.execute = function (ctx) { return 1; };",
		"module object": "module.exports = { execute: (ctx) => 1 };",
		"module fn":     "module.exports = function (ctx) { return 1; };",
		"async":         "async function execute(ctx) { return await Promise.resolve(1); }",
		"global arrow":  "var execute = (ctx) => 1;",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			result, _, _, err := run(t, src)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result != int64(1) {
				t.Errorf("result = %v (%T)", result, result)
			}
		})
	}
}

func TestRunNoEntry(t *testing.T) {
	_, _, _, err := run(t, `var x = 1;`)
	if !errors.Is(err, ErrNotExecutable) {
		t.Errorf("Run() error = %v, want ErrNotExecutable", err)
	}
}

func TestRunPluginError(t *testing.T) {
	tests := map[string]string{
		"throw":  `function execute(ctx) { throw new Error("boom"); }`,
		"reject": `async function execute(ctx) { throw new Error("boom"); }`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := run(t, src)

			var execErr *plugin.ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("Run() error = %v, want *plugin.ExecutionError", err)
			}
			if execErr.Message != "Error: boom" {
				t.Errorf("Message = %q", execErr.Message)
			}
			if execErr.PluginID != "demo" {
				t.Errorf("PluginID = %q", execErr.PluginID)
			}
		})
	}
}

func TestRunRestrictedGlobals(t *testing.T) {
	result, _, _, err := run(t, `
function execute(ctx) {
  return {
    eval: typeof eval, Function: typeof Function, process: typeof process,
    ctor: typeof (function () {}).constructor,
    asyncCtor: typeof (async function () {}).constructor,
    JSON: typeof JSON, Math: typeof Math,
  };
}
`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m := result.(map[string]any)
	for _, name := range []string{"eval", "Function", "process", "ctor", "asyncCtor"} {
		if m[name] != "undefined" {
			t.Errorf("typeof %s = %v, want undefined", name, m[name])
		}
	}
	for _, name := range []string{"JSON", "Math"} {
		if m[name] != "object" {
			t.Errorf("%s was removed", name)
		}
	}
}

func TestRunRequire(t *testing.T) {
	result, _, _, err := run(t, `
const json = require("json");
const hash = require("hash");
const re = require("re");
const b64 = require("base64");
function execute(ctx) {
  const doc = json.decode('{"a": [1, 2]}');
  return {
    n: doc.a.length,
    enc: json.encode({ k: "v" }),
    sum: hash.sha256("abc"),
    digits: re.find_all("\\d", "a1b2"),
    none: re.find("z", "abc"),
    b: b64.encode("hi"),
    same: require("json") === json,
  };
}
`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m := result.(map[string]any)
	if m["n"] != int64(2) || m["enc"] != `{"k":"v"}` || m["b"] != "aGk=" || m["same"] != true {
		t.Errorf("result = %v", m)
	}
	if !strings.HasPrefix(m["sum"].(string), "ba7816bf") {
		t.Errorf("sum = %v", m["sum"])
	}
	switch digits := m["digits"].(type) {
	case []string:
		if len(digits) != 2 {
			t.Errorf("digits = %v", digits)
		}
	case []any:
		if len(digits) != 2 {
			t.Errorf("digits = %v", digits)
		}
	default:
		t.Errorf("digits = %#v", digits)
	}
	if m["none"] != nil {
		t.Errorf("find without match = %v, want null", m["none"])
	}
}

func TestRunRequireRejected(t *testing.T) {
	for _, mod := range []string{"fs", "child_process", "lodash"} {
		_, _, _, err := run(t, `const m = require("`+mod+`");
function execute(ctx) { return 1; }`)
		if err == nil || !strings.Contains(err.Error(), "not available") {
			t.Errorf("require(%q) error = %v", mod, err)
		}
	}
}

func TestRunFilesAndOutput(t *testing.T) {
	result, files, out, err := run(t, `
function execute(ctx) {
  console.log("starting", 1);
  fs.write("out.txt", "hello");
  fs.append("out.txt", " world");
  let denied = null;
  try {
    fs.write("../escape", "x");
  } catch (e) {
    denied = String(e);
  }
  print("done");
  return { content: fs.read("out.txt"), exists: fs.exists("out.txt"), denied: denied, list: fs.list() };
}
`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m := result.(map[string]any)
	if m["content"] != "hello world" || m["exists"] != true {
		t.Errorf("result = %v", m)
	}
	if m["denied"] == nil {
		t.Error("write outside the workspace should throw")
	}
	if string(files.Files["out.txt"]) != "hello world" {
		t.Errorf("file = %q", files.Files["out.txt"])
	}
	if len(*out) != 2 || (*out)[0] != "starting 1" || (*out)[1] != "done" {
		t.Errorf("output = %q", *out)
	}
}

func TestRunHonorsContext(t *testing.T) {
	prog, err := Compile("entry.js", []byte(`function execute(ctx) { for (;;) {} }`), nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	env, _, _ := plugintest.NewEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := prog.Run(ctx, env)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Run() error = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after the deadline")
	}
}

func TestRunIsolated(t *testing.T) {
	prog, err := Compile("entry.js", []byte(`
globalThis.counter = (globalThis.counter || 0) + 1;
function execute(ctx) { return globalThis.counter; }
`), nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		env, _, _ := plugintest.NewEnv()
		got, err := prog.Run(context.Background(), env)
		if err != nil || got != int64(1) {
			t.Fatalf("run %d = %v, %v; state leaked between runs", i, got, err)
		}
	}
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("bad.js", []byte("function ("), nil)
	var syn *SyntaxError
	if !errors.As(err, &syn) {
		t.Errorf("Compile() error = %v, want *SyntaxError", err)
	}
}

func TestProgramHasEntry(t *testing.T) {
	prog, err := Compile("a.js", []byte("function execute(ctx) {}"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !prog.HasEntry() || prog.Language() != plugin.LanguageJavaScript {
		t.Errorf("HasEntry() = %v, Language() = %v", prog.HasEntry(), prog.Language())
	}
}
