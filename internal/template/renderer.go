package template

import (
	"maps"
	"strings"

	starctx "github.com/leapstack-labs/leapmesh/internal/starlark"
	"go.starlark.net/starlark"
)

// RenderString parses and renders a template in one step.
func RenderString(input, file string, ctx *starctx.ExecutionContext) (string, error) {
	tmpl, err := ParseString(input, file)
	if err != nil {
		return "", err
	}
	return Render(tmpl, ctx)
}

// Render renders a parsed template. Macros defined in the template itself
// are callable from the rest of it and produce no output where defined.
func Render(tmpl *Template, ctx *starctx.ExecutionContext) (string, error) {
	locals := starlark.StringDict{}
	for _, m := range tmpl.Macros() {
		callable, err := newMacroCallable(m.Name, m.Params, m.Body, tmpl.File, ctx)
		if err != nil {
			return "", err
		}
		locals[m.Name] = callable
	}

	r := &renderer{ctx: ctx, file: tmpl.File}
	var sb strings.Builder
	if err := r.renderNodes(&sb, tmpl.Nodes, locals); err != nil {
		return "", err
	}
	return sb.String(), nil
}

type renderer struct {
	ctx  *starctx.ExecutionContext
	file string
}

func (r *renderer) renderNodes(sb *strings.Builder, nodes []Node, locals starlark.StringDict) error {
	for _, node := range nodes {
		if err := r.renderNode(sb, node, locals); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderNode(sb *strings.Builder, node Node, locals starlark.StringDict) error {
	switch n := node.(type) {
	case *TextNode:
		sb.WriteString(n.Text)

	case *ExprNode:
		s, err := r.ctx.EvalExprStringWithLocals(n.Expr, r.file, n.Pos().Line, locals)
		if err != nil {
			return WrapRenderError(n.Pos(), "expression failed", err)
		}
		sb.WriteString(s)

	case *ForBlock:
		return r.renderFor(sb, n, locals)

	case *IfBlock:
		return r.renderIf(sb, n, locals)

	case *MacroBlock:
		// definitions render nothing

	default:
		return NewRenderErrorf(node.Pos(), "unexpected node %T", node)
	}
	return nil
}

func (r *renderer) renderFor(sb *strings.Builder, n *ForBlock, locals starlark.StringDict) error {
	v, err := r.ctx.EvalExprWithLocals(n.IterExpr, r.file, n.Pos().Line, locals)
	if err != nil {
		return WrapRenderError(n.Pos(), "for iterator failed", err)
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return NewRenderErrorf(n.Pos(), "for: %s is not iterable", v.Type())
	}

	iter := iterable.Iterate()
	defer iter.Done()

	scope := maps.Clone(locals)
	if scope == nil {
		scope = starlark.StringDict{}
	}
	var item starlark.Value
	for iter.Next(&item) {
		scope[n.VarName] = item
		if err := r.renderNodes(sb, n.Body, scope); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderIf(sb *strings.Builder, n *IfBlock, locals starlark.StringDict) error {
	ok, err := r.truth(n.Condition, n.Pos(), locals)
	if err != nil {
		return err
	}
	if ok {
		return r.renderNodes(sb, n.Body, locals)
	}
	for _, branch := range n.ElseIfs {
		ok, err := r.truth(branch.Condition, branch.pos, locals)
		if err != nil {
			return err
		}
		if ok {
			return r.renderNodes(sb, branch.Body, locals)
		}
	}
	return r.renderNodes(sb, n.Else, locals)
}

func (r *renderer) truth(expr string, pos Position, locals starlark.StringDict) (bool, error) {
	v, err := r.ctx.EvalExprWithLocals(expr, r.file, pos.Line, locals)
	if err != nil {
		return false, WrapRenderError(pos, "condition failed", err)
	}
	return bool(v.Truth()), nil
}
