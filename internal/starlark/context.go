package starlark

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapmesh/internal/macro"
	"go.starlark.net/starlark"
)

// ExecutionContext provides all globals and state for Starlark template execution.
type ExecutionContext struct {
	// Config dict containing the model's frontmatter
	Config starlark.Value

	// Env is the target environment name ("prod", "dev", ...)
	Env string

	// Target contains dialect/catalog/gateway
	Target *TargetInfo

	// This contains current model info
	This *ThisInfo

	// Variables are project variables (lowercase keys) exposed through var()
	Variables map[string]any

	// Macros contains macro namespaces and templated macro callables
	Macros starlark.StringDict

	globals starlark.StringDict
	used    map[string]any

	// mu protects globals and used
	mu sync.RWMutex
}

// NewExecutionContext creates a new execution context with the given parameters.
func NewExecutionContext(config starlark.Value, env string, target *TargetInfo, this *ThisInfo) *ExecutionContext {
	return NewContext(config, env, target, this)
}

// ContextOption is a functional option for configuring ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithMacros sets the macros for the context.
func WithMacros(macros starlark.StringDict) ContextOption {
	return func(ctx *ExecutionContext) {
		maps.Copy(ctx.Macros, macros)
	}
}

// WithMacroRegistry adds the script macro namespaces of registry.
func WithMacroRegistry(registry *macro.Registry) ContextOption {
	return func(ctx *ExecutionContext) {
		if registry != nil {
			maps.Copy(ctx.Macros, registry.ToStarlarkDict())
		}
	}
}

// WithVariables sets the variables readable through var().
func WithVariables(vars map[string]any) ContextOption {
	return func(ctx *ExecutionContext) {
		for k, v := range vars {
			ctx.Variables[strings.ToLower(k)] = v
		}
	}
}

// NewContext creates a new execution context with functional options.
func NewContext(config starlark.Value, env string, target *TargetInfo, this *ThisInfo, opts ...ContextOption) *ExecutionContext {
	ctx := &ExecutionContext{
		Config:    config,
		Env:       env,
		Target:    target,
		This:      this,
		Variables: make(map[string]any),
		Macros:    make(starlark.StringDict),
		used:      make(map[string]any),
	}

	for _, opt := range opts {
		opt(ctx)
	}

	ctx.buildGlobals()
	return ctx
}

// buildGlobals constructs the combined globals dict.
func (ctx *ExecutionContext) buildGlobals() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.globals = Predeclared(ctx.Config, ctx.Env, ctx.Target, ctx.This)
	ctx.globals["var"] = starlark.NewBuiltin("var", ctx.varBuiltin)
	for name, m := range ctx.Macros {
		ctx.globals[name] = m
	}
}

// Globals returns the combined globals dictionary for Starlark execution.
func (ctx *ExecutionContext) Globals() starlark.StringDict {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.globals
}

// AddMacros adds macro values to the context.
// Returns error if a macro name conflicts with a builtin.
func (ctx *ExecutionContext) AddMacros(macros starlark.StringDict) error {
	for name := range macros {
		if slices.Contains(macro.ReservedNamespaces, name) {
			return fmt.Errorf("macro namespace %q conflicts with builtin", name)
		}
	}

	ctx.mu.Lock()
	maps.Copy(ctx.Macros, macros)
	ctx.mu.Unlock()

	ctx.buildGlobals()
	return nil
}

// UsedVariables returns the variables read through var() so far.
func (ctx *ExecutionContext) UsedVariables() map[string]any {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return maps.Clone(ctx.used)
}

// EvalExpr evaluates a single Starlark expression and returns the result.
// This is used for {{ expr }} template expressions.
func (ctx *ExecutionContext) EvalExpr(expr string, filename string, line int) (starlark.Value, error) {
	return ctx.EvalExprWithLocals(expr, filename, line, nil)
}

// EvalExprWithLocals evaluates a Starlark expression with additional local variables.
// Locals take precedence over globals (loop variables, macro parameters).
func (ctx *ExecutionContext) EvalExprWithLocals(expr string, filename string, line int, locals starlark.StringDict) (starlark.Value, error) {
	thread := ctx.newThread(filename)

	globals := ctx.Globals()
	if len(locals) > 0 {
		combined := make(starlark.StringDict, len(globals)+len(locals))
		maps.Copy(combined, globals)
		maps.Copy(combined, locals)
		globals = combined
	}

	result, err := starlark.Eval(thread, filename, expr, globals) //nolint:staticcheck // SA1019: will migrate to EvalOptions later
	if err != nil {
		return nil, &EvalError{
			File:    filename,
			Line:    line,
			Expr:    expr,
			Message: err.Error(),
		}
	}
	return result, nil
}

// EvalExprString evaluates a Starlark expression and returns the string result.
func (ctx *ExecutionContext) EvalExprString(expr string, filename string, line int) (string, error) {
	return ctx.EvalExprStringWithLocals(expr, filename, line, nil)
}

// EvalExprStringWithLocals evaluates a Starlark expression with local variables and returns the string result.
func (ctx *ExecutionContext) EvalExprStringWithLocals(expr string, filename string, line int, locals starlark.StringDict) (string, error) {
	result, err := ctx.EvalExprWithLocals(expr, filename, line, locals)
	if err != nil {
		return "", err
	}
	return ValueString(result), nil
}

// ValueString renders a value the way it is spliced into SQL: strings
// without quotes, None as empty, everything else in Starlark notation.
func ValueString(v starlark.Value) string {
	switch v := v.(type) {
	case starlark.String:
		return string(v)
	case starlark.NoneType:
		return ""
	default:
		return v.String()
	}
}

func (ctx *ExecutionContext) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
}

// EvalError represents an error during Starlark expression evaluation.
type EvalError struct {
	File    string
	Line    int
	Expr    string
	Message string
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: error evaluating %q: %s", e.File, e.Line, e.Expr, e.Message)
	}
	return fmt.Sprintf("%s: error evaluating %q: %s", e.File, e.Expr, e.Message)
}
