// Package loader discovers and parses a project's definitions: macros,
// models, external models, audits and metrics. A load produces a
// LoadedProject with every model in a dependency graph and, unless skipped,
// with output schemas propagated through it.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/cache"
	"github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/leapstack-labs/leapmesh/internal/dag"
	"github.com/leapstack-labs/leapmesh/internal/macro"
	"github.com/leapstack-labs/leapmesh/internal/schema"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/leapstack-labs/leapmesh/pkg/sqlparse"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Project layout, relative to a scope root.
const (
	MacrosDir           = "macros"
	ModelsDir           = "models"
	AuditsDir           = "audits"
	MetricsDir          = "metrics"
	ExternalModelsFile  = "external_models.yaml"
	ExternalModelsDir   = "external_models"
	ModelCacheNamespace = "model_definition"
)

// Scope is one project root with its resolved configuration.
type Scope struct {
	Root   string
	Config *core.ProjectConfig
}

// LoadOptions configures a single load.
type LoadOptions struct {
	// SkipSchema skips schema propagation for fast metadata-only loads
	SkipSchema bool
	// Gateway overrides the gateway named in each scope's config
	Gateway string
	// Env is exposed to templates as env (default "prod")
	Env string
}

// LoadedProject is the result of a load.
type LoadedProject struct {
	Macros          *macro.Registry
	TemplatedMacros []*macro.Templated
	Models          *core.UniqueMap[*core.Model]
	Audits          *core.UniqueMap[*core.Audit]
	Metrics         *core.UniqueMap[*core.Metric]
	Graph           *dag.Graph
	// Schema is nil when schema propagation was skipped
	Schema *schema.MappingSchema
}

// Loader loads the definitions of one or more scopes.
type Loader struct {
	scopes     []Scope
	base       *macro.Registry
	analyzer   sqlparse.Analyzer
	logger     *slog.Logger
	registerer prometheus.Registerer
	globalDir  string

	mu      sync.Mutex
	caches  map[string]*scopeCaches
	tracked map[string]time.Time
}

type scopeCaches struct {
	models    *cache.FileCache[cachedModel]
	optimized *cache.FileCache[string]
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBaseMacros makes the macros of r available to every scope.
func WithBaseMacros(r *macro.Registry) Option {
	return func(l *Loader) {
		if r != nil {
			l.base = r
		}
	}
}

// WithAnalyzer replaces the default SQL analyzer.
func WithAnalyzer(a sqlparse.Analyzer) Option {
	return func(l *Loader) {
		if a != nil {
			l.analyzer = a
		}
	}
}

// WithMetrics exports cache counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *Loader) { l.registerer = reg }
}

// WithGlobalDir overrides the global configuration directory whose files
// are tracked for changes.
func WithGlobalDir(dir string) Option {
	return func(l *Loader) { l.globalDir = dir }
}

// New creates a Loader for scopes.
func New(scopes []Scope, opts ...Option) *Loader {
	l := &Loader{
		scopes:    scopes,
		base:      macro.NewRegistry(),
		analyzer:  sqlparse.Default{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		globalDir: config.GlobalDir(),
		caches:    make(map[string]*scopeCaches),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads every scope and merges the results. Scopes load in parallel;
// a failure in any scope fails the whole load.
func (l *Loader) Load(ctx context.Context, opts LoadOptions) (*LoadedProject, error) {
	start := time.Now()
	if opts.Env == "" {
		opts.Env = core.DefaultEnvironment
	}
	l.logger.Info("starting load", "scopes", len(l.scopes), "env", opts.Env)

	tr := newTracker()
	globalFiles := config.ConfigFiles(l.globalDir)
	tr.track(globalFiles...)

	results := make([]*scopeResult, len(l.scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range l.scopes {
		g.Go(func() error {
			r, err := l.loadScope(gctx, sc, opts, tr, globalFiles)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	project, err := l.merge(results)
	if err != nil {
		return nil, err
	}

	for _, m := range project.Models.Values() {
		if err := project.Graph.Add(m.Name, m.Dependencies(), m); err != nil {
			return nil, &core.ConfigError{Path: m.Path, Message: "invalid dependency", Err: err}
		}
	}
	if _, err := project.Graph.Sorted(); err != nil {
		return nil, err
	}

	if !opts.SkipSchema && len(l.scopes) > 0 {
		optimized, err := l.optimizedCaches()
		if err != nil {
			return nil, err
		}
		p := schema.New(
			schema.WithAnalyzer(l.analyzer),
			schema.WithCacheFunc(optimized),
			schema.WithLogger(l.logger),
		)
		if project.Schema, err = p.Propagate(ctx, project.Models, project.Graph); err != nil {
			return nil, err
		}
	}

	if err := ExpandMetrics(project.Metrics); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.tracked = tr.snapshot()
	l.mu.Unlock()

	l.logger.Info("load completed",
		"models", project.Models.Len(),
		"audits", project.Audits.Len(),
		"metrics", project.Metrics.Len(),
		"macros", project.Macros.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return project, nil
}

// ReloadNeeded reports whether any file tracked by the last load was removed
// or modified since. It is false before the first load.
func (l *Loader) ReloadNeeded() bool {
	l.mu.Lock()
	tracked := l.tracked
	l.mu.Unlock()
	return tracked != nil && changed(tracked)
}

// TrackedPaths returns the files read by the last load, sorted.
func (l *Loader) TrackedPaths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.tracked)
}

// Scopes returns the scopes the loader was created with.
func (l *Loader) Scopes() []Scope {
	return append([]Scope(nil), l.scopes...)
}

// optimizedCaches returns a lookup of the optimized-query cache of the scope
// that defines a model. Models outside every scope root use the first scope.
func (l *Loader) optimizedCaches() (func(m *core.Model) *cache.FileCache[string], error) {
	caches := make([]*scopeCaches, len(l.scopes))
	for i, sc := range l.scopes {
		c, err := l.cachesFor(sc)
		if err != nil {
			return nil, err
		}
		caches[i] = c
	}
	return func(m *core.Model) *cache.FileCache[string] {
		owner, depth := 0, -1
		for i, sc := range l.scopes {
			rel, err := filepath.Rel(sc.Root, m.Path)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}
			// nested scope roots: the deepest root owns the file
			if d := len(sc.Root); d > depth {
				owner, depth = i, d
			}
		}
		return caches[owner].optimized
	}, nil
}

func (l *Loader) cachesFor(sc Scope) (*scopeCaches, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.caches[sc.Root]; ok {
		return c, nil
	}
	var cfg core.CacheConfig
	if sc.Config != nil {
		cfg = sc.Config.Cache
	}
	dir := config.ResolvePath(sc.Root, cfg.Dir)
	if dir == "" {
		dir = filepath.Join(sc.Root, config.DefaultCacheDir)
	}
	opts := []cache.Option{
		cache.WithLogger(l.logger),
		cache.WithMetrics(l.registerer),
		cache.WithDisabled(cfg.Disabled),
	}
	models, err := cache.New[cachedModel](dir, ModelCacheNamespace, opts...)
	if err != nil {
		return nil, err
	}
	optimized, err := cache.New[string](dir, schema.OptimizedQueryNamespace, opts...)
	if err != nil {
		return nil, err
	}
	c := &scopeCaches{models: models, optimized: optimized}
	l.caches[sc.Root] = c
	return c, nil
}

// merge combines scope results, rejecting names defined by more than one scope.
func (l *Loader) merge(results []*scopeResult) (*LoadedProject, error) {
	project := &LoadedProject{
		Models:  core.NewUniqueMap[*core.Model]("models"),
		Audits:  core.NewUniqueMap[*core.Audit]("audits"),
		Metrics: core.NewUniqueMap[*core.Metric]("metrics"),
		Graph:   dag.NewGraph(),
	}

	macros := l.base.Clone()
	for _, r := range results {
		for _, ns := range r.macros.Namespaces() {
			if l.base.Has(ns) {
				continue
			}
			m, _ := r.macros.Get(ns)
			if err := macros.Register(m); err != nil {
				return nil, err
			}
		}
		for _, t := range r.macros.TemplatedMacros() {
			if l.base.Has(t.Name) {
				continue
			}
			if err := macros.RegisterTemplated(t); err != nil {
				return nil, err
			}
		}
		if err := project.Models.Merge(r.models); err != nil {
			return nil, err
		}
		if err := project.Audits.Merge(r.audits); err != nil {
			return nil, err
		}
		if err := project.Metrics.Merge(r.metrics); err != nil {
			return nil, err
		}
	}
	project.Macros = macros
	project.TemplatedMacros = macros.TemplatedMacros()
	return project, nil
}

// String summarizes the project for logs.
func (p *LoadedProject) String() string {
	return fmt.Sprintf("%d models, %d audits, %d metrics", p.Models.Len(), p.Audits.Len(), p.Metrics.Len())
}
