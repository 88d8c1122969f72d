package starlark

import (
	"strings"

	"go.starlark.net/starlark"
)

// ConfigToStarlark converts a model's frontmatter map to a Starlark dict.
// The dict is accessible as the "config" global in templates.
func ConfigToStarlark(config map[string]any) (starlark.Value, error) {
	if config == nil {
		return starlark.NewDict(0), nil
	}
	return GoToStarlark(config)
}

// Predeclared returns the builtin globals for template execution:
// config, env, gateway, target and this. The var() builtin is bound by the
// ExecutionContext because it records which variables a template reads.
func Predeclared(config starlark.Value, env string, target *TargetInfo, this *ThisInfo) starlark.StringDict {
	if config == nil {
		config = starlark.NewDict(0)
	}
	globals := starlark.StringDict{
		"config":  config,
		"env":     starlark.String(env),
		"gateway": starlark.None,
	}

	if target != nil {
		globals["target"] = target.ToStarlark()
		if target.Gateway != "" {
			globals["gateway"] = starlark.String(target.Gateway)
		}
	}
	if this != nil {
		globals["this"] = this.ToStarlark()
	}
	return globals
}

// varBuiltin implements var(name, default=None). Variable names are
// case-insensitive.
func (ctx *ExecutionContext) varBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}

	key := strings.ToLower(name)
	value, ok := ctx.Variables[key]
	if !ok {
		return def, nil
	}

	ctx.mu.Lock()
	ctx.used[key] = value
	ctx.mu.Unlock()

	return GoToStarlark(value)
}
