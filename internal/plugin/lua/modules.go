package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plugforge/internal/plugin/modules"
)

// module builds the table for a sanctioned module, or returns LNil.
func (e *environment) module(name string) lua.LValue {
	L := e.L
	switch name {
	case "string", "table", "math":
		return L.GetGlobal(name)
	case "json":
		return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"encode": e.jsonEncode,
			"decode": e.jsonDecode,
		})
	case "base64":
		return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"encode": func(L *lua.LState) int {
				L.Push(lua.LString(modules.Base64Encode(L.CheckString(1))))
				return 1
			},
			"decode": func(L *lua.LState) int {
				s, err := modules.Base64Decode(L.CheckString(1))
				if err != nil {
					return pushError(L, err)
				}
				L.Push(lua.LString(s))
				return 1
			},
		})
	case "hash":
		funcs := make(map[string]lua.LGFunction, len(modules.HashNames))
		for _, alg := range modules.HashNames {
			funcs[alg] = func(L *lua.LState) int {
				sum, err := modules.Hash(alg, L.CheckString(1))
				if err != nil {
					L.RaiseError("%s", err.Error())
				}
				L.Push(lua.LString(sum))
				return 1
			}
		}
		funcs["hmac_sha256"] = func(L *lua.LState) int {
			L.Push(lua.LString(modules.HMACSHA256(L.CheckString(1), L.CheckString(2))))
			return 1
		}
		return L.SetFuncs(L.NewTable(), funcs)
	case "uuid":
		return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"new": func(L *lua.LState) int {
				L.Push(lua.LString(modules.NewUUID()))
				return 1
			},
		})
	case "time":
		return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"now": func(L *lua.LState) int {
				L.Push(lua.LString(modules.Now()))
				return 1
			},
			"unix": func(L *lua.LState) int {
				L.Push(lua.LNumber(modules.Unix()))
				return 1
			},
			"format": func(L *lua.LState) int {
				L.Push(lua.LString(modules.FormatTime(float64(L.CheckNumber(1)), L.OptString(2, ""))))
				return 1
			},
			"parse": func(L *lua.LState) int {
				sec, err := modules.ParseTime(L.CheckString(1), L.OptString(2, ""))
				if err != nil {
					return pushError(L, err)
				}
				L.Push(lua.LNumber(sec))
				return 1
			},
			"sleep": func(L *lua.LState) int {
				if err := modules.Sleep(e.ctx, float64(L.CheckNumber(1))); err != nil {
					L.RaiseError("%s", err.Error())
				}
				return 0
			},
		})
	case "re":
		return e.regexpModule()
	}
	return lua.LNil
}

func (e *environment) jsonEncode(L *lua.LState) int {
	s, err := modules.JSONEncode(e.bridge.ToGoValue(L.CheckAny(1)))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(s))
	return 1
}

func (e *environment) jsonDecode(L *lua.LState) int {
	v, err := modules.JSONDecode(L.CheckString(1))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(e.bridge.ToLuaValue(v))
	return 1
}

// regexpModule raises on invalid patterns and match timeouts.
func (e *environment) regexpModule() *lua.LTable {
	L := e.L
	check := func(L *lua.LState, err error) {
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
	}
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"match": func(L *lua.LState) int {
			ok, err := modules.Match(L.CheckString(1), L.CheckString(2))
			check(L, err)
			L.Push(lua.LBool(ok))
			return 1
		},
		"find": func(L *lua.LState) int {
			s, found, err := modules.Find(L.CheckString(1), L.CheckString(2))
			check(L, err)
			if !found {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(s))
			return 1
		},
		"find_all": func(L *lua.LState) int {
			all, err := modules.FindAll(L.CheckString(1), L.CheckString(2))
			check(L, err)
			L.Push(e.bridge.ToLuaValue(all))
			return 1
		},
		"replace": func(L *lua.LState) int {
			s, err := modules.Replace(L.CheckString(1), L.CheckString(2), L.CheckString(3))
			check(L, err)
			L.Push(lua.LString(s))
			return 1
		},
		"split": func(L *lua.LState) int {
			parts, err := modules.Split(L.CheckString(1), L.CheckString(2))
			check(L, err)
			L.Push(e.bridge.ToLuaValue(parts))
			return 1
		},
	})
}
