// Package schema propagates output column schemas through the model graph.
//
// Models are visited in dependency order. Each model's wildcard projections
// are expanded against the columns already known for its sources, and its
// own output columns are registered for the models downstream of it.
package schema

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// MappingSchema maps table names to their ordered output columns. Every name
// it holds has the same number of dot-separated parts.
type MappingSchema struct {
	depth  int
	order  []string
	tables map[string]core.Columns
}

// NewMappingSchema creates an empty schema.
func NewMappingSchema() *MappingSchema {
	return &MappingSchema{tables: make(map[string]core.Columns)}
}

// Depth returns the number of name parts, or 0 while the schema is empty.
func (s *MappingSchema) Depth() int {
	return s.depth
}

// CheckName fails with a nesting SchemaError when name has a different
// number of parts than the names already seen. The first name fixes the depth.
func (s *MappingSchema) CheckName(name string) error {
	d := nameDepth(name)
	if s.depth == 0 {
		s.depth = d
		return nil
	}
	if d != s.depth {
		return &core.SchemaError{
			Model:   name,
			Message: fmt.Sprintf("%q has %d parts, expected %d", name, d, s.depth),
			Nesting: true,
		}
	}
	return nil
}

// Add registers the columns of name. Nil columns record the table as known
// with an unknown schema.
func (s *MappingSchema) Add(name string, cols core.Columns) error {
	if err := s.CheckName(name); err != nil {
		return err
	}
	key := strings.ToLower(name)
	if _, ok := s.tables[key]; !ok {
		s.order = append(s.order, key)
	}
	s.tables[key] = cols
	return nil
}

// Columns returns the columns of name. ok is false when the table is absent
// or its schema is unknown.
func (s *MappingSchema) Columns(name string) (core.Columns, bool) {
	cols, found := s.tables[strings.ToLower(name)]
	return cols, found && cols != nil
}

// Names returns the registered names in insertion order.
func (s *MappingSchema) Names() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of registered tables.
func (s *MappingSchema) Len() int {
	return len(s.order)
}

func nameDepth(name string) int {
	return strings.Count(name, ".") + 1
}
