package template

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/leapstack-labs/leapmesh/internal/macro"
	starctx "github.com/leapstack-labs/leapmesh/internal/starlark"
	"go.starlark.net/starlark"
)

const maxMacroDepth = 32

// ParseMacros extracts the {* macro *} definitions of a macro file.
// Text outside macro blocks is ignored.
func ParseMacros(path, content string) ([]*macro.Templated, error) {
	tmpl, err := ParseString(content, path)
	if err != nil {
		return nil, err
	}
	var out []*macro.Templated
	for _, m := range tmpl.Macros() {
		out = append(out, &macro.Templated{
			Name:   m.Name,
			Params: m.Params,
			Body:   m.bodyText,
			Source: m.Source,
			Path:   path,
		})
	}
	return out, nil
}

// BindMacros makes templated macros callable from templates rendered with ctx.
func BindMacros(ctx *starctx.ExecutionContext, macros []*macro.Templated) error {
	if len(macros) == 0 {
		return nil
	}
	dict := make(starlark.StringDict, len(macros))
	for _, m := range macros {
		tmpl, err := ParseString(m.Body, m.Path)
		if err != nil {
			return fmt.Errorf("macro %s: %w", m.Name, err)
		}
		callable, err := newMacroCallable(m.Name, m.Params, tmpl.Nodes, m.Path, ctx)
		if err != nil {
			return err
		}
		dict[m.Name] = callable
	}
	return ctx.AddMacros(dict)
}

type macroParam struct {
	name string
	// def is the default expression; empty when the parameter is required
	def string
}

// macroCallable renders a macro body with its arguments bound as locals.
// The output is trimmed of surrounding whitespace.
type macroCallable struct {
	name   string
	params []macroParam
	body   []Node
	file   string
	ctx    *starctx.ExecutionContext
	depth  atomic.Int32
}

var _ starlark.Callable = (*macroCallable)(nil)

func newMacroCallable(name string, params []string, body []Node, file string, ctx *starctx.ExecutionContext) (*macroCallable, error) {
	c := &macroCallable{name: name, body: body, file: file, ctx: ctx}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		n, def, hasDef := strings.Cut(p, "=")
		param := macroParam{name: strings.TrimSpace(n)}
		if hasDef {
			param.def = strings.TrimSpace(def)
			if param.def == "" {
				return nil, fmt.Errorf("macro %s: parameter %s has an empty default", name, param.name)
			}
		} else if len(c.params) > 0 && c.params[len(c.params)-1].def != "" {
			return nil, fmt.Errorf("macro %s: required parameter %s follows a parameter with a default", name, param.name)
		}
		if seen[param.name] {
			return nil, fmt.Errorf("macro %s: duplicate parameter %s", name, param.name)
		}
		seen[param.name] = true
		c.params = append(c.params, param)
	}
	return c, nil
}

func (c *macroCallable) Name() string          { return c.name }
func (c *macroCallable) String() string        { return "<macro " + c.name + ">" }
func (c *macroCallable) Type() string          { return "macro" }
func (c *macroCallable) Freeze()               {}
func (c *macroCallable) Truth() starlark.Bool  { return starlark.True }
func (c *macroCallable) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: macro") }

func (c *macroCallable) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if c.depth.Add(1) > maxMacroDepth {
		c.depth.Add(-1)
		return nil, fmt.Errorf("macro %s: maximum recursion depth exceeded", c.name)
	}
	defer c.depth.Add(-1)

	locals, err := c.bind(args, kwargs)
	if err != nil {
		return nil, err
	}

	r := &renderer{ctx: c.ctx, file: c.file}
	var sb strings.Builder
	if err := r.renderNodes(&sb, c.body, locals); err != nil {
		return nil, fmt.Errorf("macro %s: %w", c.name, err)
	}
	return starlark.String(strings.TrimSpace(sb.String())), nil
}

func (c *macroCallable) bind(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.StringDict, error) {
	if len(args) > len(c.params) {
		return nil, fmt.Errorf("%s: got %d arguments, want at most %d", c.name, len(args), len(c.params))
	}
	locals := make(starlark.StringDict, len(c.params))
	for i, arg := range args {
		locals[c.params[i].name] = arg
	}
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if !c.hasParam(key) {
			return nil, fmt.Errorf("%s: unexpected keyword argument %q", c.name, key)
		}
		if _, dup := locals[key]; dup {
			return nil, fmt.Errorf("%s: got multiple values for parameter %q", c.name, key)
		}
		locals[key] = kv[1]
	}
	for _, p := range c.params {
		if _, ok := locals[p.name]; ok {
			continue
		}
		if p.def == "" {
			return nil, fmt.Errorf("%s: missing argument for %s", c.name, p.name)
		}
		v, err := c.ctx.EvalExpr(p.def, c.file, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: default for %s: %w", c.name, p.name, err)
		}
		locals[p.name] = v
	}
	return locals, nil
}

func (c *macroCallable) hasParam(name string) bool {
	for _, p := range c.params {
		if p.name == name {
			return true
		}
	}
	return false
}
