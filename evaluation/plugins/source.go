package plugins

import (
	"errors"
	"fmt"

	"go.starlark.net/syntax"
)

const (
	nameVar        = "name"
	evaluatorBuilt = "evaluator"
)

var errNotPlugin = errors.New("not an evaluator plugin")

var fileOptions = &syntax.FileOptions{
	Set:            true,
	While:          true,
	GlobalReassign: false,
	Recursion:      true,
}

// inspectSource parses a Starlark file without executing it and returns the
// plugin name it declares. A plugin file assigns a string literal to the
// top-level "name" variable and calls evaluator(...) at top level. Files that
// never call evaluator(...) are helpers, not plugins; files that call it
// without a statically readable name are malformed.
func inspectSource(path string, src []byte) (string, error) {
	file, err := fileOptions.Parse(path, src, 0)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}

	var (
		name      string
		named     bool
		declaring bool
	)
	for _, stmt := range file.Stmts {
		switch s := stmt.(type) {
		case *syntax.AssignStmt:
			if isEvaluatorCall(s.RHS) {
				declaring = true
			}
			id, ok := s.LHS.(*syntax.Ident)
			if !ok || id.Name != nameVar {
				continue
			}
			lit, ok := s.RHS.(*syntax.Literal)
			if !ok || lit.Token != syntax.STRING {
				return "", fmt.Errorf("%s:%d: %q must be a string literal", path, id.NamePos.Line, nameVar)
			}
			if named {
				return "", fmt.Errorf("%s:%d: %q assigned more than once", path, id.NamePos.Line, nameVar)
			}
			value, _ := lit.Value.(string)
			if value == "" {
				return "", fmt.Errorf("%s:%d: %q must not be empty", path, id.NamePos.Line, nameVar)
			}
			name, named = value, true
		case *syntax.ExprStmt:
			if isEvaluatorCall(s.X) {
				declaring = true
			}
		}
	}

	switch {
	case !declaring:
		return "", errNotPlugin
	case !named:
		return "", fmt.Errorf("calls %s(...) but has no top-level %q constant", evaluatorBuilt, nameVar)
	}
	return name, nil
}

func isEvaluatorCall(e syntax.Expr) bool {
	call, ok := e.(*syntax.CallExpr)
	if !ok {
		return false
	}
	fn, ok := call.Fn.(*syntax.Ident)
	return ok && fn.Name == evaluatorBuilt
}
