package lua

import (
	"context"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// newState creates a Lua state holding only the builtins the policy allows.
func newState(policy *security.Policy) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	openSafeLibraries(L)
	filterGlobals(L, policy)
	return L
}

// openSafeLibraries opens only the base, table, string and math libraries.
// io, os, debug and package are never opened.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// filterGlobals removes every global the policy does not list.
func filterGlobals(L *lua.LState, policy *security.Policy) {
	globals := L.Get(lua.GlobalsIndex).(*lua.LTable)

	var remove []string
	globals.ForEach(func(k, _ lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok || !policy.BuiltinAllowed(plugin.LanguageLua, string(ks)) {
			remove = append(remove, k.String())
		}
	})
	for _, name := range remove {
		globals.RawSetString(name, lua.LNil)
	}
}

// environment installs the per-run capabilities into a fresh state.
type environment struct {
	ctx    context.Context
	L      *lua.LState
	bridge *Bridge
	env    *plugin.Env
	policy *security.Policy
	loaded map[string]lua.LValue
}

func installEnvironment(ctx context.Context, L *lua.LState, env *plugin.Env, policy *security.Policy) *environment {
	e := &environment{
		ctx:    ctx,
		L:      L,
		bridge: NewBridge(L),
		env:    env,
		policy: policy,
		loaded: make(map[string]lua.LValue),
	}

	L.SetGlobal("print", L.NewFunction(e.print))
	L.SetGlobal("log", L.NewFunction(e.print))
	L.SetGlobal("require", L.NewFunction(e.require))
	if env.Files != nil {
		L.SetGlobal("fs", e.filesModule())
	}
	return e
}

// print writes its arguments, tab separated, as one output line.
func (e *environment) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	if err := writeLine(e.env.Output, strings.Join(parts, "\t")); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func writeLine(w io.Writer, line string) error {
	if w == nil {
		return nil
	}
	_, err := io.WriteString(w, line)
	return err
}

// require serves sanctioned modules only. Anything else is an error, so
// nothing is ever loaded from disk.
func (e *environment) require(L *lua.LState) int {
	name := L.CheckString(1)
	if mod, ok := e.loaded[name]; ok {
		L.Push(mod)
		return 1
	}
	if !e.policy.ModuleAllowed(name) {
		L.RaiseError("module %q is not available", name)
		return 0
	}

	mod := e.module(name)
	if mod == lua.LNil {
		L.RaiseError("module %q is not available", name)
		return 0
	}
	e.loaded[name] = mod
	L.Push(mod)
	return 1
}

// filesModule exposes the scoped file capability. Failures return nil and
// a message, like the io library.
func (e *environment) filesModule() *lua.LTable {
	files := e.env.Files
	return e.L.SetFuncs(e.L.NewTable(), map[string]lua.LGFunction{
		"read": func(L *lua.LState) int {
			data, err := files.ReadFile(L.CheckString(1))
			if err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LString(data))
			return 1
		},
		"write": func(L *lua.LState) int {
			if err := files.WriteFile(L.CheckString(1), []byte(L.CheckString(2))); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},
		"append": func(L *lua.LState) int {
			if err := files.AppendFile(L.CheckString(1), []byte(L.CheckString(2))); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},
		"remove": func(L *lua.LState) int {
			if err := files.Remove(L.CheckString(1)); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},
		"exists": func(L *lua.LState) int {
			L.Push(lua.LBool(files.Exists(L.CheckString(1))))
			return 1
		},
		"list": func(L *lua.LState) int {
			names, err := files.List()
			if err != nil {
				return pushError(L, err)
			}
			L.Push(e.bridge.ToLuaValue(names))
			return 1
		},
		"dir": func(L *lua.LState) int {
			L.Push(lua.LString(files.Dir()))
			return 1
		},
	})
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
