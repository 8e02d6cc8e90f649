package lua

import (
	"bytes"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Rockspec holds the fields of a LuaRocks rockspec that describe a plugin.
type Rockspec struct {
	Package      string
	Version      string
	Summary      string
	Maintainer   string
	Dependencies []string
}

// ParseRockspec reads a rockspec by walking its assignments. The file is
// never executed.
func ParseRockspec(name string, src []byte) (*Rockspec, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}

	rs := &Rockspec{}
	for _, stmt := range chunk {
		assign, ok := stmt.(*ast.AssignStmt)
		if !ok {
			continue
		}
		for i, lhs := range assign.Lhs {
			id, ok := lhs.(*ast.IdentExpr)
			if !ok || i >= len(assign.Rhs) {
				continue
			}
			rs.assign(id.Value, assign.Rhs[i])
		}
	}
	return rs, nil
}

func (rs *Rockspec) assign(name string, value ast.Expr) {
	switch name {
	case "package":
		rs.Package = stringValue(value)
	case "version":
		rs.Version = stringValue(value)
	case "description":
		if t, ok := value.(*ast.TableExpr); ok {
			rs.Summary = fieldString(t, "summary")
			rs.Maintainer = fieldString(t, "maintainer")
		}
	case "dependencies":
		if t, ok := value.(*ast.TableExpr); ok {
			for _, f := range t.Fields {
				if f.Key != nil {
					continue
				}
				if s := stringValue(f.Value); s != "" {
					rs.Dependencies = append(rs.Dependencies, s)
				}
			}
		}
	}
}

func stringValue(e ast.Expr) string {
	if s, ok := e.(*ast.StringExpr); ok {
		return s.Value
	}
	return ""
}

func fieldString(t *ast.TableExpr, key string) string {
	for _, f := range t.Fields {
		if k, ok := f.Key.(*ast.StringExpr); ok && k.Value == key {
			return stringValue(f.Value)
		}
	}
	return ""
}
