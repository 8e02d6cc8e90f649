package js

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/security"
)

// Program is compiled JavaScript entry code. It is immutable and safe to
// run concurrently; every Run gets its own runtime.
type Program struct {
	name   string
	prog   *goja.Program
	info   *plugin.SourceInfo
	policy *security.Policy
}

// Compile parses and compiles src. A nil policy means security.DefaultPolicy.
func Compile(name string, src []byte, policy *security.Policy) (*Program, error) {
	ast, err := parser.ParseFile(nil, name, string(src), 0)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	prog, err := goja.CompileAST(ast, false)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	if policy == nil {
		policy = security.DefaultPolicy()
	}
	info := inspectProgram(ast)
	applyMarkers(info, src)
	return &Program{
		name:   name,
		prog:   prog,
		info:   info,
		policy: policy,
	}, nil
}

// Language implements plugin.Program.
func (p *Program) Language() plugin.Language {
	return plugin.LanguageJavaScript
}

// Name returns the script name used in error messages.
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

// Run executes the script in a fresh runtime and calls execute(ctx) with
// the run's context. Cancelling ctx interrupts the VM.
func (p *Program) Run(ctx context.Context, env *plugin.Env) (result any, err error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := lockDown(vm, p.policy); err != nil {
		return nil, fmt.Errorf("prepare runtime: %w", err)
	}
	e := installEnvironment(ctx, vm, env, p.policy)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &plugin.ExecutionError{
				PluginID: env.Context.PluginID,
				Message:  fmt.Sprintf("javascript panic: %v", r),
			}
		}
	}()

	if _, err := vm.RunProgram(p.prog); err != nil {
		return nil, p.runError(ctx, env, err)
	}

	fn, ok := e.entryFunction()
	if !ok {
		return nil, ErrNotExecutable
	}

	ret, err := fn(goja.Undefined(), vm.ToValue(env.ContextMap()))
	if err != nil {
		return nil, p.runError(ctx, env, err)
	}
	return p.settle(ctx, env, ret)
}

// settle unwraps a promise returned by an async entry function. The job
// queue has already drained when the call returns.
func (p *Program) settle(ctx context.Context, env *plugin.Env, v goja.Value) (any, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return v.Export(), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		if r := promise.Result(); r != nil && !goja.IsUndefined(r) {
			return r.Export(), nil
		}
		return nil, nil
	case goja.PromiseStateRejected:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &plugin.ExecutionError{
			PluginID: env.Context.PluginID,
			Message:  promise.Result().String(),
		}
	default:
		return nil, ErrPendingPromise
	}
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

// constructorReset makes the Function constructors unreachable through
// the prototypes of ordinary, async and generator functions.
const constructorReset = `(function () {
	var protos = [
		Function.prototype,
		Object.getPrototypeOf(async function () {}),
		Object.getPrototypeOf(function* () {}),
	];
	for (var i = 0; i < protos.length; i++) {
		Object.defineProperty(protos[i], "constructor", {
			value: undefined, writable: false, enumerable: false, configurable: false,
		});
	}
})();`

// lockDown disables the Function constructors and deletes every global
// the policy does not list.
func lockDown(vm *goja.Runtime, policy *security.Policy) error {
	if _, err := vm.RunString(constructorReset); err != nil {
		return err
	}
	global := vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if !policy.BuiltinAllowed(plugin.LanguageJavaScript, name) {
			if err := global.Delete(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// environment installs the per-run capabilities into a fresh runtime.
type environment struct {
	ctx    context.Context
	vm     *goja.Runtime
	env    *plugin.Env
	policy *security.Policy
	cjs    *goja.Object
	loaded map[string]goja.Value
}

func installEnvironment(ctx context.Context, vm *goja.Runtime, env *plugin.Env, policy *security.Policy) *environment {
	e := &environment{
		ctx:    ctx,
		vm:     vm,
		env:    env,
		policy: policy,
		cjs:    vm.NewObject(),
		loaded: make(map[string]goja.Value),
	}

	exports := vm.NewObject()
	_ = e.cjs.Set("exports", exports)
	_ = vm.Set("module", e.cjs)
	_ = vm.Set("exports", exports)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, e.print)
	}
	_ = vm.Set("console", console)
	_ = vm.Set("print", e.print)
	_ = vm.Set("log", e.print)
	_ = vm.Set("require", e.require)
	if env.Files != nil {
		_ = vm.Set("fs", e.filesModule())
	}
	return e
}

// entryFunction finds execute as a global, on module.exports, or as
// module.exports itself.
func (e *environment) entryFunction() (goja.Callable, bool) {
	if fn, ok := goja.AssertFunction(e.vm.Get(plugin.EntryFunction)); ok {
		return fn, true
	}
	exports := e.cjs.Get("exports")
	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, true
	}
	if obj, ok := exports.(*goja.Object); ok {
		return goja.AssertFunction(obj.Get(plugin.EntryFunction))
	}
	return nil, false
}

// print writes its arguments, space separated, as one output line.
func (e *environment) print(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		parts = append(parts, arg.String())
	}
	if err := writeLine(e.env.Output, strings.Join(parts, " ")); err != nil {
		panic(e.vm.NewGoError(err))
	}
	return goja.Undefined()
}

func writeLine(w io.Writer, line string) error {
	if w == nil {
		return nil
	}
	_, err := io.WriteString(w, line)
	return err
}

// require serves sanctioned modules only.
func (e *environment) require(name string) goja.Value {
	if mod, ok := e.loaded[name]; ok {
		return mod
	}
	if !e.policy.ModuleAllowed(name) {
		panic(e.vm.NewTypeError("module %q is not available", name))
	}
	mod := e.module(name)
	if mod == nil {
		panic(e.vm.NewTypeError("module %q is not available", name))
	}
	e.loaded[name] = mod
	return mod
}

// filesModule exposes the scoped file capability. Failures throw.
func (e *environment) filesModule() *goja.Object {
	files := e.env.Files
	obj := e.vm.NewObject()
	_ = obj.Set("read", func(name string) (string, error) {
		data, err := files.ReadFile(name)
		return string(data), err
	})
	_ = obj.Set("write", func(name, data string) error {
		return files.WriteFile(name, []byte(data))
	})
	_ = obj.Set("append", func(name, data string) error {
		return files.AppendFile(name, []byte(data))
	})
	_ = obj.Set("remove", files.Remove)
	_ = obj.Set("exists", files.Exists)
	_ = obj.Set("list", files.List)
	_ = obj.Set("dir", files.Dir)
	return obj
}
