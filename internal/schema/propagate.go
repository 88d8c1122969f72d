package schema

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmesh/internal/cache"
	"github.com/leapstack-labs/leapmesh/internal/dag"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/leapstack-labs/leapmesh/pkg/sqlparse"
)

// OptimizedQueryNamespace is the cache namespace of expanded query texts.
const OptimizedQueryNamespace = "optimized_query"

// Propagator infers model output columns in dependency order.
type Propagator struct {
	analyzer sqlparse.Analyzer
	cacheFor func(m *core.Model) *cache.FileCache[string]
	logger   *slog.Logger
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithAnalyzer replaces the default SQL analyzer.
func WithAnalyzer(a sqlparse.Analyzer) Option {
	return func(p *Propagator) {
		if a != nil {
			p.analyzer = a
		}
	}
}

// WithCache stores expanded query texts in c.
func WithCache(c *cache.FileCache[string]) Option {
	return WithCacheFunc(func(*core.Model) *cache.FileCache[string] { return c })
}

// WithCacheFunc stores the expanded query text of each model in the cache fn
// returns for it. A nil cache leaves the model uncached.
func WithCacheFunc(fn func(m *core.Model) *cache.FileCache[string]) Option {
	return func(p *Propagator) { p.cacheFor = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Propagator) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Propagator.
func New(opts ...Option) *Propagator {
	p := &Propagator{
		analyzer: sqlparse.Default{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propagate visits graph in topological order. For every model in models it
// sets Resolved and OptimizedQuery, then validates the model. Graph nodes
// without a model (undeclared sources) only take part in the nesting check.
func (p *Propagator) Propagate(ctx context.Context, models *core.UniqueMap[*core.Model], graph *dag.Graph) (*MappingSchema, error) {
	order, err := graph.Sorted()
	if err != nil {
		return nil, err
	}

	s := NewMappingSchema()
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, ok := models.Get(name)
		if !ok {
			if err := s.Add(name, nil); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.propagateModel(s, m); err != nil {
			return nil, err
		}
		if err := m.Validate(); err != nil {
			return nil, &core.ConfigError{Path: m.Path, Message: "invalid model " + m.Name, Err: err}
		}
	}

	p.logger.Debug("schema propagation completed", "tables", s.Len())
	return s, nil
}

func (p *Propagator) propagateModel(s *MappingSchema, m *core.Model) error {
	query := m.RenderedQuery
	if query == "" {
		query = m.Query
	}
	if m.Kind.IsExternal() || strings.TrimSpace(query) == "" {
		return s.Add(m.Name, m.Columns)
	}

	q, err := p.analyzer.Analyze(query)
	if err != nil {
		return &core.SchemaError{Model: m.Name, Message: "failed to analyze query", Err: err}
	}
	for _, ref := range q.References {
		if err := s.CheckName(ref); err != nil {
			return &core.SchemaError{Model: m.Name, Message: "reference " + ref, Nesting: true}
		}
	}

	r := newResolver(s)
	cols, known := r.queryColumns(q, nil)
	if known {
		m.Resolved = cols
	} else {
		p.logger.Debug("columns unknown", "model", m.Name)
	}

	var c *cache.FileCache[string]
	if p.cacheFor != nil {
		c = p.cacheFor(m)
	}
	optimized, err := p.optimize(c, m.Name, query, q, r, s)
	if err != nil {
		return err
	}
	m.OptimizedQuery = optimized

	return s.Add(m.Name, m.ColumnsToTypes())
}

// optimize returns the query with top-level wildcards expanded. The result is
// cached under the model name, keyed by the query and its sources' schemas.
func (p *Propagator) optimize(c *cache.FileCache[string], name, text string, q *sqlparse.Query, r *resolver, s *MappingSchema) (string, error) {
	expand := func() (string, error) {
		if !q.HasStar() {
			return q.Text, nil
		}
		return q.ExpandStars(func(proj sqlparse.Projection) []string {
			cols, ok := r.starColumns(q, proj, nil)
			if !ok {
				return nil
			}
			return cols.Names()
		}), nil
	}
	if c == nil {
		return expand()
	}
	return c.GetOrLoad(EntryName(name), sourcesKey(text, q, s), expand)
}

// EntryName is the optimized-query cache entry of a model.
func EntryName(model string) string {
	return strings.ReplaceAll(model, ".", "__")
}

func sourcesKey(text string, q *sqlparse.Query, s *MappingSchema) string {
	parts := []string{text}
	for _, ref := range q.References {
		parts = append(parts, ref)
		if cols, ok := s.Columns(ref); ok {
			for _, c := range cols {
				parts = append(parts, c.Name+" "+c.Type)
			}
		}
	}
	return core.Hash(parts...)
}
