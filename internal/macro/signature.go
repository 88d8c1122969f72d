package macro

import (
	"sort"
	"strings"

	"go.starlark.net/syntax"
)

// Function is a public function of a script namespace, read from the file's
// syntax tree.
type Function struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Doc    string   `json:"doc,omitempty"`
	Line   int      `json:"line"`
}

// scanFunctions lists the top-level public defs of a .star file in source
// order. Syntax errors carry the file position.
func scanFunctions(path string, content []byte) ([]*Function, error) {
	f, err := syntax.Parse(path, content, 0) //nolint:staticcheck // SA1019: same options as ExecFile
	if err != nil {
		return nil, err
	}

	var out []*Function
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || strings.HasPrefix(def.Name.Name, "_") {
			continue
		}
		out = append(out, &Function{
			Name:   def.Name.Name,
			Params: paramList(def.Params),
			Doc:    docstring(def.Body),
			Line:   int(def.Name.NamePos.Line),
		})
	}
	return out, nil
}

func paramList(params []syntax.Expr) []string {
	out := make([]string, 0, len(params))
	for _, param := range params {
		switch p := param.(type) {
		case *syntax.Ident:
			out = append(out, p.Name)
		case *syntax.BinaryExpr:
			if ident, ok := p.X.(*syntax.Ident); ok && p.Op == syntax.EQ {
				out = append(out, ident.Name+"="+defaultText(p.Y))
			}
		case *syntax.UnaryExpr:
			// *args, **kwargs; a bare * has no operand
			ident, ok := p.X.(*syntax.Ident)
			if !ok {
				out = append(out, "*")
				continue
			}
			out = append(out, p.Op.String()+ident.Name)
		}
	}
	return out
}

func docstring(body []syntax.Stmt) string {
	if len(body) == 0 {
		return ""
	}
	expr, ok := body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}
	lit, ok := expr.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}
	s, _ := lit.Value.(string)
	return strings.TrimSpace(s)
}

// defaultText renders a default value; composite values are abbreviated.
func defaultText(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Literal:
		return e.Raw
	case *syntax.Ident:
		return e.Name
	case *syntax.ListExpr:
		return "[...]"
	case *syntax.DictExpr:
		return "{...}"
	case *syntax.TupleExpr:
		return "(...)"
	case *syntax.UnaryExpr:
		return e.Op.String() + defaultText(e.X)
	default:
		return "..."
	}
}

// Signature describes a callable macro for listings. Script functions are
// named namespace.function.
type Signature struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Doc    string   `json:"doc,omitempty"`
	Path   string   `json:"path"`
	Line   int      `json:"line,omitempty"`
}

// String formats the signature as a call, e.g. "dates.spine(start, end=None)".
func (s Signature) String() string {
	return s.Name + "(" + strings.Join(s.Params, ", ") + ")"
}

// Signatures lists every script function and templated macro, sorted by name.
func (r *Registry) Signatures() []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Signature
	for ns, m := range r.modules {
		for _, fn := range m.Functions {
			out = append(out, Signature{
				Name:   ns + "." + fn.Name,
				Params: fn.Params,
				Doc:    fn.Doc,
				Path:   m.Path,
				Line:   fn.Line,
			})
		}
	}
	for _, t := range r.templated {
		out = append(out, Signature{Name: t.Name, Params: t.Params, Path: t.Path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
