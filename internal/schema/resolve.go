package schema

import (
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/leapstack-labs/leapmesh/pkg/sqlparse"
)

// resolver infers the output columns of analyzed queries.
type resolver struct {
	schema   *MappingSchema
	visiting map[*sqlparse.Query]bool
}

func newResolver(s *MappingSchema) *resolver {
	return &resolver{schema: s, visiting: make(map[*sqlparse.Query]bool)}
}

// scope is the chain of enclosing queries whose CTEs are visible.
type scope []*sqlparse.Query

func (s scope) cte(name string) (*sqlparse.Query, scope, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if q, ok := s[i].CTE(name); ok {
			return q, s[:i+1], true
		}
	}
	return nil, nil, false
}

// queryColumns returns the output columns of q. ok is false if any wildcard
// cannot be expanded.
func (r *resolver) queryColumns(q *sqlparse.Query, outer scope) (core.Columns, bool) {
	sc := append(append(scope(nil), outer...), q)
	var cols core.Columns
	for _, p := range q.Projections {
		if p.Star {
			expanded, ok := r.starColumns(q, p, outer)
			if !ok {
				return nil, false
			}
			cols = append(cols, expanded...)
			continue
		}
		typ := p.Type
		if typ == "" {
			typ = r.columnType(q, p, sc)
		}
		cols = append(cols, core.Column{Name: p.Name, Type: typ})
	}
	return cols, true
}

// starColumns expands one wildcard projection of q.
func (r *resolver) starColumns(q *sqlparse.Query, p sqlparse.Projection, outer scope) (core.Columns, bool) {
	sc := append(append(scope(nil), outer...), q)
	if p.Qualifier != "" {
		src, ok := findSource(q.Sources, p.Qualifier)
		if !ok {
			return nil, false
		}
		return r.sourceColumns(src, sc)
	}
	if len(q.Sources) == 0 {
		return nil, false
	}
	var cols core.Columns
	for _, src := range q.Sources {
		c, ok := r.sourceColumns(src, sc)
		if !ok {
			return nil, false
		}
		cols = append(cols, c...)
	}
	return cols, true
}

// sourceColumns resolves a FROM source: a derived query, a CTE visible in
// sc, or a table in the schema.
func (r *resolver) sourceColumns(src sqlparse.TableRef, sc scope) (core.Columns, bool) {
	if src.Derived {
		if src.Query == nil {
			return nil, false
		}
		return r.queryColumns(src.Query, sc)
	}
	if !strings.Contains(src.Name, ".") {
		if cte, cteScope, ok := sc.cte(src.Name); ok {
			if r.visiting[cte] {
				// recursive CTE
				return nil, false
			}
			r.visiting[cte] = true
			defer delete(r.visiting, cte)
			return r.queryColumns(cte, cteScope)
		}
	}
	return r.schema.Columns(src.Name)
}

// columnType looks up the type of a direct column reference in its source.
func (r *resolver) columnType(q *sqlparse.Query, p sqlparse.Projection, sc scope) string {
	if p.Column == "" {
		return core.UnknownType
	}
	sources := q.Sources
	if p.Qualifier != "" {
		src, ok := findSource(q.Sources, p.Qualifier)
		if !ok {
			return core.UnknownType
		}
		sources = []sqlparse.TableRef{src}
	}
	for _, src := range sources {
		cols, ok := r.sourceColumns(src, sc)
		if !ok {
			continue
		}
		if typ, ok := cols.Get(p.Column); ok {
			return typ
		}
	}
	return core.UnknownType
}

// findSource matches a qualifier against source aliases, full names and
// unqualified table names.
func findSource(sources []sqlparse.TableRef, qualifier string) (sqlparse.TableRef, bool) {
	for _, src := range sources {
		if src.Alias != "" {
			if strings.EqualFold(src.Alias, qualifier) {
				return src, true
			}
			continue
		}
		if strings.EqualFold(src.Name, qualifier) {
			return src, true
		}
		if i := strings.LastIndex(src.Name, "."); i >= 0 && strings.EqualFold(src.Name[i+1:], qualifier) {
			return src, true
		}
	}
	return sqlparse.TableRef{}, false
}
