package lua

import (
	"bytes"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/plugforge/internal/plugin"
)

// libraryGlobals are standard library tables Lua code can reach without
// require. Attribute access on one of them is recorded as an import.
var libraryGlobals = map[string]bool{
	"os": true, "io": true, "debug": true, "package": true,
	"string": true, "table": true, "math": true, "coroutine": true,
}

// Inspect parses src and records its metadata constants, top-level
// functions, required modules and call targets. Nothing is executed.
func Inspect(name string, src []byte) (*plugin.SourceInfo, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	return inspectChunk(chunk), nil
}

func inspectChunk(chunk []ast.Stmt) *plugin.SourceInfo {
	in := &inspector{info: plugin.NewSourceInfo()}
	for _, stmt := range chunk {
		in.topLevel(stmt)
	}
	in.stmts(chunk)
	return in.info
}

type inspector struct {
	info *plugin.SourceInfo
}

// topLevel records declarations that only count at chunk scope.
func (in *inspector) topLevel(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.FuncDefStmt:
		if id, ok := s.Name.Func.(*ast.IdentExpr); ok {
			in.info.AddFunction(id.Value)
		}
	case *ast.LocalAssignStmt:
		for i, name := range s.Names {
			if i < len(s.Exprs) {
				in.binding(name, s.Exprs[i])
			}
		}
	case *ast.AssignStmt:
		for i, lhs := range s.Lhs {
			if id, ok := lhs.(*ast.IdentExpr); ok && i < len(s.Rhs) {
				in.binding(id.Value, s.Rhs[i])
			}
		}
	}
}

func (in *inspector) binding(name string, value ast.Expr) {
	switch v := value.(type) {
	case *ast.FunctionExpr:
		in.info.AddFunction(name)
	case *ast.StringExpr:
		if strings.HasPrefix(name, "PLUGIN_") {
			in.info.Constants[name] = v.Value
		}
	}
}

func (in *inspector) stmts(list []ast.Stmt) {
	for _, stmt := range list {
		in.stmt(stmt)
	}
}

func (in *inspector) stmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		in.exprs(s.Lhs)
		in.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		in.exprs(s.Exprs)
	case *ast.FuncCallStmt:
		in.expr(s.Expr)
	case *ast.DoBlockStmt:
		in.stmts(s.Stmts)
	case *ast.WhileStmt:
		in.expr(s.Condition)
		in.stmts(s.Stmts)
	case *ast.RepeatStmt:
		in.stmts(s.Stmts)
		in.expr(s.Condition)
	case *ast.IfStmt:
		in.expr(s.Condition)
		in.stmts(s.Then)
		in.stmts(s.Else)
	case *ast.NumberForStmt:
		in.expr(s.Init)
		in.expr(s.Limit)
		in.expr(s.Step)
		in.stmts(s.Stmts)
	case *ast.GenericForStmt:
		in.exprs(s.Exprs)
		in.stmts(s.Stmts)
	case *ast.FuncDefStmt:
		if s.Name.Func != nil {
			in.expr(s.Name.Func)
		}
		if s.Name.Receiver != nil {
			in.expr(s.Name.Receiver)
		}
		in.stmts(s.Func.Stmts)
	case *ast.ReturnStmt:
		in.exprs(s.Exprs)
	}
}

func (in *inspector) exprs(list []ast.Expr) {
	for _, e := range list {
		in.expr(e)
	}
}

func (in *inspector) expr(expr ast.Expr) {
	switch e := expr.(type) {
	case nil:
	case *ast.FuncCallExpr:
		in.call(e)
		if _, named := e.Func.(*ast.IdentExpr); e.Func != nil && !named {
			in.expr(e.Func)
		}
		if e.Receiver != nil {
			in.expr(e.Receiver)
		}
		in.args(e)
	case *ast.IdentExpr:
		if e.Value == "require" {
			in.info.AddImport(plugin.DynamicImport, e.Line())
		}
	case *ast.AttrGetExpr:
		if id, ok := e.Object.(*ast.IdentExpr); ok && libraryGlobals[id.Value] {
			in.info.AddImport(id.Value, e.Line())
		}
		in.expr(e.Object)
		in.expr(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			in.expr(f.Key)
			in.expr(f.Value)
		}
	case *ast.LogicalOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.RelationalOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.StringConcatOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		in.expr(e.Expr)
	case *ast.UnaryNotOpExpr:
		in.expr(e.Expr)
	case *ast.UnaryLenOpExpr:
		in.expr(e.Expr)
	case *ast.FunctionExpr:
		in.stmts(e.Stmts)
	}
}

// call records the target name of a call and, for require, the module.
func (in *inspector) call(e *ast.FuncCallExpr) {
	line := e.Line()
	if e.Method != "" {
		if id, ok := e.Receiver.(*ast.IdentExpr); ok && libraryGlobals[id.Value] {
			in.info.AddImport(id.Value, line)
		}
		in.info.AddCall(e.Method, line)
		return
	}

	switch fn := e.Func.(type) {
	case *ast.IdentExpr:
		in.info.AddCall(fn.Value, line)
		if fn.Value == "require" {
			in.info.AddImport(requireTarget(e.Args), line)
		}
	case *ast.AttrGetExpr:
		if key, ok := fn.Key.(*ast.StringExpr); ok {
			in.info.AddCall(key.Value, line)
		}
	}
}

// args walks call arguments. require handed to another function, as in
// pcall(require, "mod"), is recorded as an import of the literal that
// follows it.
func (in *inspector) args(e *ast.FuncCallExpr) {
	for i := 0; i < len(e.Args); i++ {
		if id, ok := e.Args[i].(*ast.IdentExpr); ok && id.Value == "require" {
			in.info.AddImport(requireTarget(e.Args[i+1:]), id.Line())
			if i+1 < len(e.Args) {
				if _, ok := e.Args[i+1].(*ast.StringExpr); ok {
					i++
				}
			}
			continue
		}
		in.expr(e.Args[i])
	}
}

// requireTarget returns the module named by the first argument, or
// DynamicImport when it is not a string literal.
func requireTarget(args []ast.Expr) string {
	if len(args) > 0 {
		if mod, ok := args[0].(*ast.StringExpr); ok {
			return mod.Value
		}
	}
	return plugin.DynamicImport
}
