package template

import (
	"sort"
	"strings"

	"go.starlark.net/syntax"
)

// Names returns the sorted free identifiers used by the template's
// expressions, conditions and iterators. Loop variables and macro parameters
// bound inside the template are excluded.
func (t *Template) Names() ([]string, error) {
	seen := make(map[string]bool)
	if err := collectNames(t.Nodes, t.File, nil, seen); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func collectNames(nodes []Node, file string, bound map[string]bool, seen map[string]bool) error {
	for _, node := range nodes {
		switch n := node.(type) {
		case *ExprNode:
			if err := exprNames(n.Expr, file, bound, seen); err != nil {
				return err
			}
		case *ForBlock:
			if err := exprNames(n.IterExpr, file, bound, seen); err != nil {
				return err
			}
			if err := collectNames(n.Body, file, with(bound, n.VarName), seen); err != nil {
				return err
			}
		case *IfBlock:
			if err := exprNames(n.Condition, file, bound, seen); err != nil {
				return err
			}
			if err := collectNames(n.Body, file, bound, seen); err != nil {
				return err
			}
			for _, b := range n.ElseIfs {
				if err := exprNames(b.Condition, file, bound, seen); err != nil {
					return err
				}
				if err := collectNames(b.Body, file, bound, seen); err != nil {
					return err
				}
			}
			if err := collectNames(n.Else, file, bound, seen); err != nil {
				return err
			}
		case *MacroBlock:
			inner := bound
			for _, p := range n.Params {
				name, def, hasDef := cutParam(p)
				if hasDef {
					if err := exprNames(def, file, bound, seen); err != nil {
						return err
					}
				}
				inner = with(inner, name)
			}
			if err := collectNames(n.Body, file, inner, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func exprNames(src, file string, bound map[string]bool, seen map[string]bool) error {
	if src == "" {
		return nil
	}
	expr, err := syntax.ParseExpr(file, src, 0) //nolint:staticcheck // SA1019: will migrate to FileOptions later
	if err != nil {
		return err
	}
	locals := make(map[string]bool)
	var visit func(syntax.Node) bool
	visit = func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.Comprehension:
			for _, clause := range n.Clauses {
				if fc, ok := clause.(*syntax.ForClause); ok {
					markBound(fc.Vars, locals)
				}
			}
		case *syntax.LambdaExpr:
			for _, p := range n.Params {
				markBound(p, locals)
			}
		case *syntax.DotExpr:
			// the attribute name is not a reference
			syntax.Walk(n.X, visit)
			return false
		case *syntax.CallExpr:
			syntax.Walk(n.Fn, visit)
			for _, arg := range n.Args {
				if bin, ok := arg.(*syntax.BinaryExpr); ok && bin.Op == syntax.EQ {
					syntax.Walk(bin.Y, visit)
					continue
				}
				syntax.Walk(arg, visit)
			}
			return false
		case *syntax.Ident:
			if !bound[n.Name] && !locals[n.Name] {
				seen[n.Name] = true
			}
		}
		return true
	}
	syntax.Walk(expr, visit)
	return nil
}

func markBound(e syntax.Node, locals map[string]bool) {
	syntax.Walk(e, func(n syntax.Node) bool {
		if id, ok := n.(*syntax.Ident); ok {
			locals[id.Name] = true
		}
		return true
	})
}

func with(bound map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(bound)+1)
	for k := range bound {
		out[k] = true
	}
	out[name] = true
	return out
}

func cutParam(p string) (name, def string, ok bool) {
	name, def, ok = strings.Cut(p, "=")
	return strings.TrimSpace(name), strings.TrimSpace(def), ok
}
