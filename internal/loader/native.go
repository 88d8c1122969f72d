package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	starctx "github.com/leapstack-labs/leapmesh/internal/starlark"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// loadNativeModels executes models/**/*.star. Each model(...) call in those
// files defines one model.
func (l *Loader) loadNativeModels(ctx context.Context, env *scopeEnv, models *core.UniqueMap[*core.Model], tr *tracker) error {
	paths, err := discover(filepath.Join(env.root, ModelsDir), ".star", env)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	defaults := starctx.ModelDefaults{Dialect: env.config.Dialect, Cron: env.config.Cron}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr.track(path)

		src, err := os.ReadFile(path) //nolint:gosec // G304: path comes from walking the models directory
		if err != nil {
			return &core.ConfigError{Path: path, Message: "failed to read model", Err: err}
		}
		tctx, err := env.newContext("", nil)
		if err != nil {
			return &core.ConfigError{Path: path, Err: err}
		}

		registry := starctx.NewNativeRegistry()
		if err := starctx.ExecModelFile(path, src, registry, defaults, tctx); err != nil {
			return &core.ConfigError{Path: path, Message: "failed to load model", Err: err}
		}

		for _, m := range registry.Models() {
			if err := l.finishNativeModel(env, m, path); err != nil {
				return &core.ConfigError{Path: path, Message: "invalid model " + m.Name, Err: err}
			}
			if err := models.Set(m.Name, m); err != nil {
				return &core.ConfigError{Path: path, Err: err}
			}
		}
	}
	return nil
}

// finishNativeModel renders the query of a natively defined model and
// extracts its references.
func (l *Loader) finishNativeModel(env *scopeEnv, m *core.Model, path string) error {
	m.Name = strings.ToLower(m.Name)
	m.DependsOn = lowerAll(m.DependsOn)
	m.Path = path
	if m.Kind.IsExternal() {
		return fmt.Errorf("external models are declared in %s", ExternalModelsFile)
	}

	rendered, err := l.renderModel(env, m, env.rel(path))
	if err != nil {
		return err
	}
	m.RenderedQuery = rendered
	if strings.TrimSpace(rendered) == "" {
		return nil
	}
	q, err := l.analyzer.Analyze(rendered)
	if err != nil {
		return fmt.Errorf("failed to parse query: %w", err)
	}
	m.References = q.References
	return nil
}
