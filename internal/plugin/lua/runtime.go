package lua

import (
	"bytes"
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// Program is compiled Lua entry code. It is immutable and safe to run
// concurrently; every Run gets its own state.
type Program struct {
	name   string
	proto  *lua.FunctionProto
	info   *plugin.SourceInfo
	policy *security.Policy
}

// Compile parses and compiles src. A nil policy means security.DefaultPolicy.
func Compile(name string, src []byte, policy *security.Policy) (*Program, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	if policy == nil {
		policy = security.DefaultPolicy()
	}
	return &Program{
		name:   name,
		proto:  proto,
		info:   inspectChunk(chunk),
		policy: policy,
	}, nil
}

// Language implements plugin.Program.
func (p *Program) Language() plugin.Language {
	return plugin.LanguageLua
}

// Name returns the chunk name used in error messages.
func (p *Program) Name() string {
	return p.name
}

// Info returns what the syntax walk learned about the source.
func (p *Program) Info() *plugin.SourceInfo {
	return p.info
}

// HasEntry reports whether the source declares the entry function.
func (p *Program) HasEntry() bool {
	return p.info.HasFunction(plugin.EntryFunction)
}

// Run executes the chunk in a fresh state and calls execute(ctx) with the
// run's context. The state observes ctx, so cancellation stops the VM at
// the next instruction.
func (p *Program) Run(ctx context.Context, env *plugin.Env) (result any, err error) {
	L := newState(p.policy)
	defer L.Close()
	L.SetContext(ctx)

	e := installEnvironment(ctx, L, env, p.policy)

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &plugin.ExecutionError{
				PluginID: env.Context.PluginID,
				Message:  fmt.Sprintf("lua panic: %v", r),
			}
		}
	}()

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, p.runError(ctx, env, err)
	}
	chunkResult := L.Get(-1)
	L.Pop(1)

	fn := entryFunction(L, chunkResult)
	if fn == nil {
		return nil, ErrNotExecutable
	}

	err = L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.bridge.ToLuaValue(env.ContextMap()))
	if err != nil {
		return nil, p.runError(ctx, env, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return e.bridge.ToGoValue(ret), nil
}

// entryFunction finds execute as a global, as the chunk's return value,
// or as a field of a returned table.
func entryFunction(L *lua.LState, chunkResult lua.LValue) *lua.LFunction {
	if fn, ok := L.GetGlobal(plugin.EntryFunction).(*lua.LFunction); ok {
		return fn
	}
	switch v := chunkResult.(type) {
	case *lua.LFunction:
		return v
	case *lua.LTable:
		if fn, ok := v.RawGetString(plugin.EntryFunction).(*lua.LFunction); ok {
			return fn
		}
	}
	return nil
}

func (p *Program) runError(ctx context.Context, env *plugin.Env, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &plugin.ExecutionError{
		PluginID: env.Context.PluginID,
		Message:  errorMessage(err),
		Err:      err,
	}
}
