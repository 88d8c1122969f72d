package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmesh/internal/cache"
	"github.com/leapstack-labs/leapmesh/internal/template"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// cachedModel is the cached parse result of a model file.
type cachedModel struct {
	Model         *core.Model `json:"model"`
	References    []string    `json:"references"`
	RenderedQuery string      `json:"rendered_query"`
}

// loadModels parses models/**/*.sql through the model cache.
func (l *Loader) loadModels(ctx context.Context, env *scopeEnv, tr *tracker, logger *slog.Logger) (*core.UniqueMap[*core.Model], error) {
	models := core.NewUniqueMap[*core.Model]("models")

	paths, err := discover(filepath.Join(env.root, ModelsDir), ".sql", env)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, &core.ConfigError{Path: path, Message: "failed to read model", Err: err}
		}
		if info.Size() == 0 {
			logger.Debug("skipping empty model file", "path", env.rel(path))
			continue
		}
		tr.track(path)

		key := env.key
		key.FileMtime = tr.mtime(path)
		cm, err := env.caches.models.GetOrLoad(entryName(env, path), key.String(), func() (cachedModel, error) {
			return l.parseModelFile(env, path)
		})
		if err != nil {
			return nil, &core.ConfigError{Path: path, Message: "failed to load model", Err: err}
		}

		m := *cm.Model
		m.Path = path
		m.References = cm.References
		m.RenderedQuery = cm.RenderedQuery
		if m.Kind.Name == core.KindSeed {
			// read on every load: the cache key does not cover the seed file
			if m.SeedHash, err = seedHash(env, m.Kind.Path, tr); err != nil {
				return nil, &core.ConfigError{Path: path, Message: "failed to read seed", Err: err}
			}
		}
		if err := models.Set(m.Name, &m); err != nil {
			return nil, &core.ConfigError{Path: path, Err: err}
		}
	}
	return models, nil
}

// seedHash tracks the seed file and digests its content. Relative seed
// paths resolve against the scope root.
func seedHash(env *scopeEnv, seed string, tr *tracker) (string, error) {
	path := filepath.FromSlash(seed)
	if !filepath.IsAbs(path) {
		path = filepath.Join(env.root, path)
	}
	content, err := os.ReadFile(path) //nolint:gosec // G304: seed path is declared by the project
	if err != nil {
		return "", err
	}
	tr.track(path)
	return core.Hash(string(content)), nil
}

func entryName(env *scopeEnv, path string) string {
	return cache.EntryName(env.rel(path))
}

// parseModelFile reads one model definition: optional frontmatter, then SQL
// statements of which the last is the query.
func (l *Loader) parseModelFile(env *scopeEnv, path string) (cachedModel, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from walking the models directory
	if err != nil {
		return cachedModel{}, err
	}

	rel := env.rel(path)
	header, headerLine, body, _ := extractModelHeader(string(content))
	h, err := parseModelHeader(rel, header, headerLine)
	if err != nil {
		return cachedModel{}, err
	}

	m := &core.Model{
		Name:          strings.ToLower(firstNonEmpty(h.Name, defaultModelName(env.root, path))),
		Kind:          h.Kind.Kind,
		Dialect:       firstNonEmpty(h.Dialect, env.config.Dialect),
		Cron:          firstNonEmpty(h.Cron, env.config.Cron),
		Owner:         h.Owner,
		Description:   h.Description,
		Start:         h.Start,
		Tags:          h.Tags,
		StorageFormat: h.StorageFormat,
		PartitionedBy: h.PartitionedBy,
		Columns:       core.Columns(h.Columns),
		DependsOn:     lowerAll(h.DependsOn),
		Pre:           h.Pre,
		Post:          h.Post,
		Audits:        h.Audits,
		SourceType:    core.SourceSQL,
	}
	if m.Kind.Name == "" {
		m.Kind.Name = core.KindFull
	}
	if m.Kind.IsExternal() {
		return cachedModel{}, fmt.Errorf("external models are declared in %s", ExternalModelsFile)
	}
	if err := m.Kind.Validate(); err != nil {
		return cachedModel{}, err
	}

	stmts := splitStatements(body)
	if len(stmts) > 0 {
		m.Query = stmts[len(stmts)-1]
		m.Expressions = stmts[:len(stmts)-1]
	}

	rendered, err := l.renderModel(env, m, rel)
	if err != nil {
		return cachedModel{}, err
	}

	cm := cachedModel{Model: m, RenderedQuery: rendered}
	if strings.TrimSpace(rendered) != "" {
		q, err := l.analyzer.Analyze(rendered)
		if err != nil {
			return cachedModel{}, fmt.Errorf("failed to parse query: %w", err)
		}
		cm.References = q.References
	}
	return cm, nil
}

// renderModel renders the query and expressions, recording the macros and
// variables they use on m. It returns the rendered query.
func (l *Loader) renderModel(env *scopeEnv, m *core.Model, file string) (string, error) {
	ctx, err := env.newContext(m.Name, modelConfig(m))
	if err != nil {
		return "", err
	}

	names := make(map[string]bool)
	var rendered string
	stmts := append(append([]string(nil), m.Expressions...), m.Query)
	stmts = append(append(stmts, m.Pre...), m.Post...)
	for i, stmt := range stmts {
		if stmt == "" {
			continue
		}
		tmpl, err := template.ParseString(stmt, file)
		if err != nil {
			return "", err
		}
		refs, err := tmpl.Names()
		if err != nil {
			return "", err
		}
		for _, n := range refs {
			names[n] = true
		}
		// pre and post statements run later, with runtime values
		if i > len(m.Expressions) {
			continue
		}
		out, err := template.Render(tmpl, ctx)
		if err != nil {
			return "", err
		}
		if i == len(m.Expressions) {
			rendered = out
		}
	}

	m.Macros = l.macroSources(env, names)
	if used := ctx.UsedVariables(); len(used) > 0 {
		m.Variables = used
	}
	return rendered, nil
}

// macroSources returns the source of every registered macro in names and,
// transitively, of the templated macros those bodies reference.
func (l *Loader) macroSources(env *scopeEnv, names map[string]bool) map[string]string {
	out := make(map[string]string)
	queue := make([]string, 0, len(names))
	for n := range names {
		queue = append(queue, n)
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, done := out[name]; done {
			continue
		}
		src, ok := env.macros.Source(name)
		if !ok {
			continue
		}
		out[name] = src

		t, ok := env.macros.GetTemplated(name)
		if !ok {
			continue
		}
		tmpl, err := template.ParseString(t.Body, t.Path)
		if err != nil {
			continue
		}
		inner, err := tmpl.Names()
		if err != nil {
			continue
		}
		queue = append(queue, inner...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// modelConfig is the config global visible to a model's templates.
func modelConfig(m *core.Model) map[string]any {
	cfg := map[string]any{
		"name":    m.Name,
		"kind":    string(m.Kind.Name),
		"dialect": m.Dialect,
		"cron":    m.Cron,
	}
	if m.Owner != "" {
		cfg["owner"] = m.Owner
	}
	if m.Kind.TimeColumn != nil {
		cfg["time_column"] = m.Kind.TimeColumn.Column
	}
	if len(m.Tags) > 0 {
		cfg["tags"] = m.Tags
	}
	return cfg
}

// defaultModelName derives schema.table from the path under models/:
// models/sushi/orders.sql becomes sushi.orders.
func defaultModelName(root, path string) string {
	return defaultName(filepath.Join(root, ModelsDir), path)
}

// discover walks dir for files with ext, skipping paths matched by the
// scope's ignore patterns. A missing directory yields no paths.
func discover(dir, ext string, env *scopeEnv) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ignored(env, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &core.ConfigError{Path: dir, Message: "failed to scan directory", Err: err}
	}
	sort.Strings(paths)
	return paths, nil
}

// ignored matches the path relative to the scope root against each ignore
// pattern, and each pattern against the base name.
func ignored(env *scopeEnv, path string) bool {
	rel := filepath.ToSlash(env.rel(path))
	for _, pattern := range env.config.Ignore {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
		if strings.HasSuffix(pattern, "/**") && strings.HasPrefix(rel+"/", strings.TrimSuffix(pattern, "**")) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func lowerAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
