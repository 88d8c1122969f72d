package loader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/leapstack-labs/leapmesh/internal/cache"
	"github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/leapstack-labs/leapmesh/internal/macro"
	starctx "github.com/leapstack-labs/leapmesh/internal/starlark"
	"github.com/leapstack-labs/leapmesh/internal/template"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// scopeResult holds everything one scope defines.
type scopeResult struct {
	macros  *macro.Registry
	models  *core.UniqueMap[*core.Model]
	audits  *core.UniqueMap[*core.Audit]
	metrics *core.UniqueMap[*core.Metric]
}

// scopeEnv is the rendering environment shared by a scope's definitions.
type scopeEnv struct {
	root      string
	config    *core.ProjectConfig
	env       string
	variables map[string]any
	target    *starctx.TargetInfo
	macros    *macro.Registry
	templated []*macro.Templated
	// key is the invalidation key without the per-file mtime
	key    cache.InvalidationKey
	caches *scopeCaches
}

func (l *Loader) loadScope(ctx context.Context, sc Scope, opts LoadOptions, tr *tracker, globalFiles []string) (*scopeResult, error) {
	cfg := sc.Config
	if cfg == nil {
		cfg = &core.ProjectConfig{}
		config.ApplyDefaults(cfg)
	}
	if opts.Gateway != "" {
		c := *cfg
		c.Gateway = opts.Gateway
		cfg = &c
	}

	logger := l.logger.With("root", sc.Root)
	projectFiles := config.ConfigFiles(sc.Root)
	tr.track(projectFiles...)

	gw := config.ResolveGateway(cfg, "", logger)
	vars := config.Variables(cfg, gw)
	if gw != nil {
		vars["gateway"] = gw.Name
	}

	fingerprint, err := config.Fingerprint(cfg)
	if err != nil {
		return nil, &core.ConfigError{Path: sc.Root, Message: "invalid configuration", Err: err}
	}

	registry, macroPaths, err := l.loadMacros(sc.Root)
	if err != nil {
		return nil, err
	}
	tr.track(macroPaths...)

	caches, err := l.cachesFor(Scope{Root: sc.Root, Config: cfg})
	if err != nil {
		return nil, err
	}

	env := &scopeEnv{
		root:      sc.Root,
		config:    cfg,
		env:       opts.Env,
		variables: vars,
		target:    config.TargetInfo(cfg, gw),
		macros:    registry,
		templated: registry.TemplatedMacros(),
		key: cache.InvalidationKey{
			MacroMtime:         cache.MaxMtime(macroPaths...),
			ProjectConfigMtime: cache.MaxMtime(projectFiles...),
			GlobalConfigMtime:  cache.MaxMtime(globalFiles...),
			// templates can read env, so it takes part in the key
			ConfigFingerprint: core.Hash(fingerprint, opts.Env),
			DefaultCatalog:    config.DefaultCatalog(cfg, gw),
		},
		caches: caches,
	}

	models, err := l.loadModels(ctx, env, tr, logger)
	if err != nil {
		return nil, err
	}
	if err := l.loadExternalModels(env, models, tr); err != nil {
		return nil, err
	}
	if err := l.loadNativeModels(ctx, env, models, tr); err != nil {
		return nil, err
	}

	metrics, err := l.loadMetrics(env, tr)
	if err != nil {
		return nil, err
	}
	audits, err := l.loadAudits(env, tr)
	if err != nil {
		return nil, err
	}

	logger.Debug("scope loaded",
		"models", models.Len(),
		"audits", audits.Len(),
		"metrics", metrics.Len(),
		"gateway", env.target.Gateway)
	return &scopeResult{macros: registry, models: models, audits: audits, metrics: metrics}, nil
}

// loadMacros loads the scope's macros into a copy of the base registry.
// The base registry is left untouched.
func (l *Loader) loadMacros(root string) (*macro.Registry, []string, error) {
	dir := filepath.Join(root, MacrosDir)
	snapshot := l.base.Snapshot()
	registry := macro.NewRegistry()
	registry.Restore(snapshot)

	ml := macro.NewLoader(dir)
	paths, err := ml.Paths()
	if err != nil {
		return nil, nil, &core.ConfigError{Path: dir, Message: "failed to scan macros", Err: err}
	}

	modules, err := ml.Load()
	if err != nil {
		return nil, nil, &core.ConfigError{Path: dir, Message: "failed to load macros", Err: err}
	}
	if err := registry.RegisterAll(modules); err != nil {
		return nil, nil, &core.ConfigError{Path: dir, Message: "failed to register macros", Err: err}
	}

	templated, err := ml.LoadTemplated(template.ParseMacros)
	if err != nil {
		return nil, nil, &core.ConfigError{Path: dir, Message: "failed to load macros", Err: err}
	}
	for _, t := range templated {
		if err := registry.RegisterTemplated(t); err != nil {
			return nil, nil, &core.ConfigError{Path: t.Path, Message: "failed to register macros", Err: err}
		}
	}
	return registry, paths, nil
}

// newContext builds the template context for a definition named name.
func (e *scopeEnv) newContext(name string, cfg map[string]any) (*starctx.ExecutionContext, error) {
	cfgValue, err := starctx.ConfigToStarlark(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config for %s: %w", name, err)
	}
	var this *starctx.ThisInfo
	if name != "" {
		this = starctx.NewThisInfo(name)
	}
	ctx := starctx.NewContext(cfgValue, e.env, e.target, this,
		starctx.WithMacroRegistry(e.macros),
		starctx.WithVariables(e.variables),
	)
	if err := template.BindMacros(ctx, e.templated); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (e *scopeEnv) rel(path string) string {
	if rel, err := filepath.Rel(e.root, path); err == nil {
		return rel
	}
	return path
}
