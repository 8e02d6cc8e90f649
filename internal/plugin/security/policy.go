package security

import (
	"sort"
	"strings"

	"github.com/dshills/plugforge/internal/plugin"
)

// Policy is the data-driven deny/allow table applied to entry code.
//
// Static validation consults ForbiddenImports and ForbiddenCalls. Runtimes
// consult AllowedBuiltins and AllowedModules when building the restricted
// environment. Extending the policy never requires code changes.
type Policy struct {
	// ForbiddenImports are module roots that may not be required.
	ForbiddenImports map[plugin.Language][]string

	// ForbiddenCalls are function names that may not be called.
	ForbiddenCalls map[plugin.Language][]string

	// AllowedBuiltins are the global names left in a fresh runtime.
	AllowedBuiltins map[plugin.Language][]string

	// AllowedModules are the sanctioned modules served by require.
	AllowedModules []string
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() *Policy {
	return &Policy{
		ForbiddenImports: map[plugin.Language][]string{
			plugin.LanguageLua: {
				// process control and raw OS access
				"os", "io", "posix", "lfs", "ffi", "jit", "debug", "package",
				// networking
				"socket", "ssl", "http", "copas", "ltn12", "mime",
				// serialization
				"serpent", "binser", "marshal",
			},
			plugin.LanguageJavaScript: {
				"child_process", "process", "os", "worker_threads", "cluster",
				"fs", "module", "inspector", "vm",
				"net", "http", "https", "http2", "dgram", "dns", "tls",
				"v8", "node-serialize", "serialize-javascript",
				"shelljs", "node-pty",
			},
		},
		ForbiddenCalls: map[plugin.Language][]string{
			plugin.LanguageLua: {
				"load", "loadstring", "loadfile", "dofile", "setfenv", "getfenv",
				"dump", "open", "popen", "execute", "system",
			},
			plugin.LanguageJavaScript: {
				"eval", "Function", "constructor",
				"open", "openSync", "createReadStream", "createWriteStream",
				"execSync", "execFile", "execFileSync", "spawn", "spawnSync", "fork", "system",
			},
		},
		AllowedBuiltins: map[plugin.Language][]string{
			plugin.LanguageLua: {
				"_G", "_VERSION", "assert", "error", "ipairs", "next", "pairs", "pcall",
				"print", "select", "tonumber", "tostring", "type", "unpack", "xpcall",
				"getmetatable", "setmetatable", "rawequal", "rawget", "rawlen", "rawset",
				"string", "table", "math",
			},
			plugin.LanguageJavaScript: {
				"Object", "Array", "String", "Number", "Boolean", "Symbol", "BigInt",
				"Math", "JSON", "Date", "RegExp", "Map", "Set", "WeakMap", "WeakSet",
				"Promise", "Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError",
				"ArrayBuffer", "DataView", "Uint8Array", "Int32Array", "Float64Array",
				"parseInt", "parseFloat", "isNaN", "isFinite",
				"encodeURIComponent", "decodeURIComponent", "encodeURI", "decodeURI",
				"Infinity", "NaN", "undefined", "globalThis",
			},
		},
		AllowedModules: []string{
			"json", "re", "hash", "uuid", "base64", "time",
			"string", "table", "math",
		},
	}
}

// ModuleRoot returns the top-level token of a module reference:
// "socket.http" -> "socket", "fs/promises" -> "fs", "node:fs" -> "fs",
// "@scope/pkg/sub" -> "@scope/pkg".
func ModuleRoot(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "node:")
	if strings.HasPrefix(name, "@") {
		parts := strings.SplitN(name, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return name
	}
	if i := strings.IndexAny(name, "./"); i > 0 {
		return name[:i]
	}
	return name
}

// Check validates a syntax walk against the deny tables. It returns the
// first offending import, then the first offending call, in source order.
func (p *Policy) Check(lang plugin.Language, info *plugin.SourceInfo) *plugin.ValidationError {
	imports := toSet(p.ForbiddenImports[lang])
	for _, imp := range info.Imports {
		if imp == plugin.DynamicImport || imports[ModuleRoot(imp)] {
			return &plugin.ValidationError{
				Kind: plugin.ErrForbiddenImport,
				Name: imp,
				Line: info.Lines["import:"+imp],
			}
		}
	}

	calls := toSet(p.ForbiddenCalls[lang])
	for _, call := range info.Calls {
		if calls[call] {
			return &plugin.ValidationError{
				Kind: plugin.ErrForbiddenCall,
				Name: call,
				Line: info.Lines["call:"+call],
			}
		}
	}
	return nil
}

// ModuleAllowed reports whether require may serve the module.
func (p *Policy) ModuleAllowed(name string) bool {
	for _, m := range p.AllowedModules {
		if m == name {
			return true
		}
	}
	return false
}

// BuiltinAllowed reports whether a global may stay in a fresh runtime.
func (p *Policy) BuiltinAllowed(lang plugin.Language, name string) bool {
	for _, b := range p.AllowedBuiltins[lang] {
		if b == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that can be extended independently.
func (p *Policy) Clone() *Policy {
	return &Policy{
		ForbiddenImports: cloneTable(p.ForbiddenImports),
		ForbiddenCalls:   cloneTable(p.ForbiddenCalls),
		AllowedBuiltins:  cloneTable(p.AllowedBuiltins),
		AllowedModules:   append([]string(nil), p.AllowedModules...),
	}
}

// Summary lists the deny tables in a stable order, for display.
func (p *Policy) Summary(lang plugin.Language) (imports, calls []string) {
	imports = append(imports, p.ForbiddenImports[lang]...)
	calls = append(calls, p.ForbiddenCalls[lang]...)
	sort.Strings(imports)
	sort.Strings(calls)
	return imports, calls
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func cloneTable(t map[plugin.Language][]string) map[plugin.Language][]string {
	out := make(map[plugin.Language][]string, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out
}
