package js

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"

	"github.com/dshills/plugforge/internal/plugin"
)

// hostGlobals are Node globals that grant host access without require.
// Member access on one of them is recorded as an import.
var hostGlobals = map[string]bool{
	"process": true,
}

var (
	markerPattern = regexp.MustCompile(`(?m)^\s*(?://+|/?\*+)\s*@(name|description|version|author|category)\s+(.+?)\s*(?:\*/)?\s*$`)
	importPattern = regexp.MustCompile(`(?m)(?:^\s*import\s+(?:[\w*{}\s,$]+\s+from\s+)?|\brequire\s*\(\s*)["']([^"'\s]+)["']`)
)

var markerConstants = map[string]string{
	"name":        plugin.ConstName,
	"description": plugin.ConstDescription,
	"version":     plugin.ConstVersion,
	"author":      plugin.ConstAuthor,
	"category":    plugin.ConstCategory,
}

// Inspect parses src and records its metadata, top-level functions,
// required modules and call targets. Nothing is executed. Metadata
// comment markers such as "// @name Foo" fill constants the source does
// not declare.
func Inspect(name string, src []byte) (*plugin.SourceInfo, error) {
	prg, err := parser.ParseFile(nil, name, string(src), 0)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	info := inspectProgram(prg)
	applyMarkers(info, src)
	return info, nil
}

// ScanImports finds import and require targets with a pattern match. It
// serves sources the parser rejects, such as ES module syntax.
func ScanImports(src []byte) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range importPattern.FindAllSubmatch(src, -1) {
		mod := string(m[1])
		if !seen[mod] {
			seen[mod] = true
			out = append(out, mod)
		}
	}
	return out
}

// Markers returns the metadata comment markers in src, keyed by constant name.
func Markers(src []byte) map[string]string {
	out := make(map[string]string)
	for _, m := range markerPattern.FindAllSubmatch(src, -1) {
		key := markerConstants[string(m[1])]
		if _, ok := out[key]; !ok {
			out[key] = strings.TrimSpace(string(m[2]))
		}
	}
	return out
}

func applyMarkers(info *plugin.SourceInfo, src []byte) {
	for k, v := range Markers(src) {
		if _, ok := info.Constants[k]; !ok {
			info.Constants[k] = v
		}
	}
}

func inspectProgram(prg *ast.Program) *plugin.SourceInfo {
	in := &inspector{
		info: plugin.NewSourceInfo(),
		file: prg.File,
		seen: make(map[nodeKey]bool),
	}
	for _, stmt := range prg.Body {
		in.topLevel(stmt)
	}
	in.walk(reflect.ValueOf(prg))
	return in.info
}

type nodeKey struct {
	ptr uintptr
	typ reflect.Type
}

type inspector struct {
	info *plugin.SourceInfo
	file *file.File
	seen map[nodeKey]bool
}

var fileType = reflect.TypeOf((*file.File)(nil))

func (in *inspector) line(idx file.Idx) int {
	if in.file == nil {
		return 0
	}
	return in.file.Position(int(idx) - in.file.Base()).Line
}

// topLevel records declarations that only count at program scope.
func (in *inspector) topLevel(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function.Name != nil {
			in.info.AddFunction(s.Function.Name.Name.String())
		}
	case *ast.VariableStatement:
		in.bindings(s.List)
	case *ast.LexicalDeclaration:
		in.bindings(s.List)
	case *ast.ExpressionStatement:
		if assign, ok := s.Expression.(*ast.AssignExpression); ok {
			in.assignment(assign)
		}
	}
}

func (in *inspector) bindings(list []*ast.Binding) {
	for _, b := range list {
		if id, ok := b.Target.(*ast.Identifier); ok {
			in.binding(id.Name.String(), b.Initializer)
		}
	}
}

// assignment handles name = value, exports.name = value and
// module.exports = { ... }.
func (in *inspector) assignment(a *ast.AssignExpression) {
	switch left := a.Left.(type) {
	case *ast.Identifier:
		in.binding(left.Name.String(), a.Right)
	case *ast.DotExpression:
		if isExports(left.Left) {
			in.binding(left.Identifier.Name.String(), a.Right)
			return
		}
		if isModuleExports(left) {
			switch right := a.Right.(type) {
			case *ast.ObjectLiteral:
				for _, prop := range right.Value {
					if kp, ok := prop.(*ast.PropertyKeyed); ok {
						if key := literalString(kp.Key); key != "" {
							in.binding(key, kp.Value)
						}
					}
				}
			case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
				in.info.AddFunction(plugin.EntryFunction)
			}
		}
	}
}

func (in *inspector) binding(name string, value ast.Expression) {
	switch v := value.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		in.info.AddFunction(name)
	case *ast.StringLiteral:
		if strings.HasPrefix(name, "PLUGIN_") {
			in.info.Constants[name] = v.Value.String()
		}
	}
}

// walk visits every node reachable from v.
func (in *inspector) walk(v reflect.Value) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			in.walk(v.Elem())
		}
	case reflect.Ptr:
		if v.IsNil() || v.Type() == fileType {
			return
		}
		key := nodeKey{v.Pointer(), v.Type()}
		if in.seen[key] {
			return
		}
		in.seen[key] = true
		if node, ok := v.Interface().(ast.Node); ok {
			in.visit(node)
		}
		in.walk(v.Elem())
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				in.walk(v.Field(i))
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			in.walk(v.Index(i))
		}
	}
}

func (in *inspector) visit(node ast.Node) {
	switch n := node.(type) {
	case *ast.CallExpression:
		name := calleeName(n.Callee)
		if name == "" {
			return
		}
		line := in.line(n.Idx0())
		in.info.AddCall(name, line)
		if id, ok := n.Callee.(*ast.Identifier); ok && id.Name == "require" && len(n.ArgumentList) > 0 {
			if mod := literalString(n.ArgumentList[0]); mod != "" {
				in.info.AddImport(mod, line)
			}
		}
	case *ast.NewExpression:
		if name := calleeName(n.Callee); name != "" {
			in.info.AddCall(name, in.line(n.Idx0()))
		}
	case *ast.DotExpression:
		if id, ok := n.Left.(*ast.Identifier); ok && hostGlobals[id.Name.String()] {
			in.info.AddImport(id.Name.String(), in.line(n.Idx0()))
		}
	}
}

// calleeName returns the last name component of a call target.
func calleeName(expr ast.Expression) string {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e.Name.String()
	case *ast.DotExpression:
		return e.Identifier.Name.String()
	case *ast.BracketExpression:
		return literalString(e.Member)
	}
	return ""
}

func literalString(expr ast.Expression) string {
	if s, ok := expr.(*ast.StringLiteral); ok {
		return s.Value.String()
	}
	return ""
}

func isExports(expr ast.Expression) bool {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e.Name == "exports"
	case *ast.DotExpression:
		return isModuleExports(e)
	}
	return false
}

func isModuleExports(e *ast.DotExpression) bool {
	id, ok := e.Left.(*ast.Identifier)
	return ok && id.Name == "module" && e.Identifier.Name == "exports"
}
