package analyzer

import (
	"sort"
	"strings"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// Fallback version floors for modules missing from the package tables.
const (
	luaFloor = ">=1.0.0"
	npmFloor = ">=0.0.0"
)

// luaRocks maps Lua module roots to LuaRocks requirement specifiers.
var luaRocks = map[string]string{
	"socket":   "luasocket>=3.0.0",
	"ssl":      "luasec>=1.0.0",
	"lfs":      "luafilesystem>=1.8.0",
	"cjson":    "lua-cjson>=2.1.0",
	"lpeg":     "lpeg>=1.0.0",
	"posix":    "luaposix>=35.0",
	"pl":       "penlight>=1.13.0",
	"dkjson":   "dkjson>=2.5",
	"inspect":  "inspect>=3.1.0",
	"lustache": "lustache>=1.3.0",
	"lyaml":    "lyaml>=6.2.0",
	"date":     "date>=2.2",
	"http":     "http>=0.4",
}

// npmPackages maps JavaScript module roots to npm requirement specifiers.
var npmPackages = map[string]string{
	"axios":      "axios@^1.6.0",
	"lodash":     "lodash@^4.17.21",
	"moment":     "moment@^2.29.4",
	"dayjs":      "dayjs@^1.11.0",
	"express":    "express@^4.18.0",
	"cheerio":    "cheerio@^1.0.0",
	"sharp":      "sharp@^0.33.0",
	"node-fetch": "node-fetch@^2.7.0",
	"jimp":       "jimp@^0.22.0",
	"validator":  "validator@^13.11.0",
	"mathjs":     "mathjs@^12.0.0",
}

// luaBuiltins ship with the interpreter.
var luaBuiltins = toSet(
	"os", "io", "string", "table", "math", "coroutine", "debug", "package",
	"utf8", "bit32", "_G",
)

// nodeBuiltins are Node.js core modules.
var nodeBuiltins = toSet(
	"assert", "async_hooks", "buffer", "child_process", "cluster", "console",
	"constants", "crypto", "dgram", "diagnostics_channel", "dns", "domain",
	"events", "fs", "http", "http2", "https", "inspector", "module", "net", "os",
	"path", "perf_hooks", "process", "punycode", "querystring", "readline",
	"repl", "stream", "string_decoder", "sys", "timers", "tls", "trace_events",
	"tty", "url", "util", "v8", "vm", "wasi", "worker_threads", "zlib",
)

// requirements maps referenced modules to requirement specifiers. Built-in
// and sanctioned modules are dropped; the result is deduplicated and sorted.
func requirements(lang plugin.Language, imports []string, policy *security.Policy) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(spec string) {
		if !seen[spec] {
			seen[spec] = true
			out = append(out, spec)
		}
	}

	for _, imp := range imports {
		if imp == plugin.DynamicImport {
			continue
		}
		switch lang {
		case plugin.LanguageLua:
			root := security.ModuleRoot(imp)
			if root == "" || luaBuiltins[root] || policy.ModuleAllowed(root) {
				continue
			}
			if spec, ok := luaRocks[root]; ok {
				add(spec)
			} else {
				add(root + luaFloor)
			}
		case plugin.LanguageJavaScript:
			if !packageImport(imp) {
				continue
			}
			root := security.ModuleRoot(imp)
			if nodeBuiltins[root] || policy.ModuleAllowed(root) {
				continue
			}
			if spec, ok := npmPackages[root]; ok {
				add(spec)
			} else {
				add(root + npmFloor)
			}
		}
	}

	sort.Strings(out)
	return out
}

// packageImport reports whether a JavaScript import names an installable
// package rather than a relative path, URL or "node:" core module.
func packageImport(imp string) bool {
	imp = strings.TrimSpace(imp)
	switch {
	case imp == "":
		return false
	case strings.HasPrefix(imp, "."), strings.HasPrefix(imp, "/"):
		return false
	case strings.Contains(imp, ":"):
		return false
	}
	return true
}

func toSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
