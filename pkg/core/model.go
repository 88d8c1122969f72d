package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// KindName identifies a model materialization kind.
type KindName string

// Model kind constants.
const (
	KindFull                   KindName = "full"
	KindIncrementalByTimeRange KindName = "incremental_by_time_range"
	KindSeed                   KindName = "seed"
	KindExternal               KindName = "external"
	KindView                   KindName = "view"
	KindEmbedded               KindName = "embedded"
)

// ParseKindName normalizes a kind name as written in a definition file.
func ParseKindName(s string) (KindName, error) {
	name := KindName(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case KindFull, KindIncrementalByTimeRange, KindSeed, KindExternal, KindView, KindEmbedded:
		return name, nil
	case "":
		return KindFull, nil
	default:
		return "", fmt.Errorf("unknown model kind %q", s)
	}
}

// SourceType tags how a model was defined.
type SourceType string

// Source type constants.
const (
	SourceSQL      SourceType = "sql"
	SourceStarlark SourceType = "starlark"
)

// TimeColumn is the partitioning column of an incremental model.
type TimeColumn struct {
	Column string `json:"column"`
	Format string `json:"format,omitempty"`
}

// Kind is a tagged variant: Name selects which payload fields apply.
type Kind struct {
	Name KindName `json:"name"`
	// TimeColumn applies to incremental_by_time_range
	TimeColumn *TimeColumn `json:"time_column,omitempty"`
	// Path applies to seed (relative to the project root)
	Path string `json:"path,omitempty"`
	// BatchSize applies to seed
	BatchSize int `json:"batch_size,omitempty"`
}

// IsMaterialized reports whether the kind owns a physical table.
func (k Kind) IsMaterialized() bool {
	switch k.Name {
	case KindView, KindEmbedded, KindExternal:
		return false
	default:
		return true
	}
}

// IsEmbedded reports whether the model is inlined into its consumers.
func (k Kind) IsEmbedded() bool { return k.Name == KindEmbedded }

// IsExternal reports whether the model is defined outside the project.
func (k Kind) IsExternal() bool { return k.Name == KindExternal }

// IsIncremental reports whether the kind processes time intervals.
func (k Kind) IsIncremental() bool { return k.Name == KindIncrementalByTimeRange }

// Validate checks that the kind's payload matches its name.
func (k Kind) Validate() error {
	switch k.Name {
	case KindIncrementalByTimeRange:
		if k.TimeColumn == nil || k.TimeColumn.Column == "" {
			return fmt.Errorf("kind %s requires a time_column", k.Name)
		}
	case KindSeed:
		if k.Path == "" {
			return fmt.Errorf("kind %s requires a path", k.Name)
		}
	case KindFull, KindExternal, KindView, KindEmbedded:
	default:
		return fmt.Errorf("unknown model kind %q", k.Name)
	}
	if k.Name != KindIncrementalByTimeRange && k.TimeColumn != nil {
		return fmt.Errorf("kind %s does not accept a time_column", k.Name)
	}
	return nil
}

func (k Kind) String() string { return string(k.Name) }

// Column is a single output column.
type Column struct {
	Name string
	Type string
}

// UnknownType is used when a column's type cannot be inferred.
const UnknownType = "UNKNOWN"

// Columns is an ordered column-name to type mapping.
// It encodes as a JSON object whose key order matches the slice order.
type Columns []Column

// Names returns the column names in order.
func (c Columns) Names() []string {
	names := make([]string, len(c))
	for i, col := range c {
		names[i] = col.Name
	}
	return names
}

// Get returns the type of the named column (case-insensitive).
func (c Columns) Get(name string) (string, bool) {
	for _, col := range c {
		if strings.EqualFold(col.Name, name) {
			return col.Type, true
		}
	}
	return "", false
}

// Has reports whether the named column exists (case-insensitive).
func (c Columns) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// MarshalJSON encodes the columns as an ordered object.
func (c Columns) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(col.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object preserving key order.
func (c *Columns) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*c = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("columns: expected object, got %v", tok)
	}
	cols := Columns{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("columns: expected string key, got %v", keyTok)
		}
		var typ string
		if err := dec.Decode(&typ); err != nil {
			return fmt.Errorf("columns: column %q: %w", key, err)
		}
		cols = append(cols, Column{Name: key, Type: typ})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = cols
	return nil
}

// Model is a named data transformation.
// Fields tagged json:"-" are derived during loading and are not part of the
// serialized definition.
type Model struct {
	// Name is the fully-qualified model name (e.g., "sushi.orders")
	Name string `json:"name"`
	// Kind is the materialization strategy
	Kind Kind `json:"kind"`
	// Dialect is the SQL dialect the query is written in
	Dialect string `json:"dialect"`
	// Cron is the schedule expression (default @daily)
	Cron string `json:"cron"`
	// Owner is the team/person responsible for this model
	Owner string `json:"owner,omitempty"`
	// Description is a human-readable description of the model
	Description string `json:"description,omitempty"`
	// Start is the earliest date the model has data for
	Start string `json:"start,omitempty"`
	// Tags are metadata labels for filtering/organizing models
	Tags []string `json:"tags,omitempty"`
	// StorageFormat is the physical table format (e.g., parquet)
	StorageFormat string `json:"storage_format,omitempty"`
	// PartitionedBy lists the partition columns
	PartitionedBy []string `json:"partitioned_by"`
	// Columns are declared output columns, overriding inference
	Columns Columns `json:"columns,omitempty"`
	// DependsOn are explicitly declared dependencies
	DependsOn []string `json:"depends_on,omitempty"`
	// Query is the raw query text as written
	Query string `json:"query,omitempty"`
	// Expressions are statements preceding the query
	Expressions []string `json:"expressions"`
	// Pre statements run before the query
	Pre []string `json:"pre"`
	// Post statements run after the query
	Post []string `json:"post"`
	// Audits are the names of attached audits
	Audits []string `json:"audits"`
	// SourceType tags sql-file versus natively-defined models
	SourceType SourceType `json:"source_type"`
	// Macros maps each referenced macro to its source text
	Macros map[string]string `json:"macros,omitempty"`
	// Variables holds the values of referenced project variables
	Variables map[string]any `json:"variables,omitempty"`
	// SeedHash is a digest of the seed file content
	SeedHash string `json:"seed_hash,omitempty"`

	// Path is the definition file path
	Path string `json:"-"`
	// References are tables referenced by the rendered query
	References []string `json:"-"`
	// RenderedQuery is the query after template rendering
	RenderedQuery string `json:"-"`
	// OptimizedQuery is the rendered query with wildcards expanded
	OptimizedQuery string `json:"-"`
	// Resolved holds columns inferred by schema propagation
	Resolved Columns `json:"-"`
}

// MarshalJSON encodes the model with empty lists instead of nulls.
func (m Model) MarshalJSON() ([]byte, error) {
	type alias Model
	a := alias(m)
	a.PartitionedBy = nonNil(a.PartitionedBy)
	a.Expressions = nonNil(a.Expressions)
	a.Pre = nonNil(a.Pre)
	a.Post = nonNil(a.Post)
	a.Audits = nonNil(a.Audits)
	return json.Marshal(a)
}

// Dependencies returns the sorted union of declared and referenced names,
// excluding the model itself.
func (m *Model) Dependencies() []string {
	if m.Kind.IsExternal() {
		return nil
	}
	seen := make(map[string]bool, len(m.DependsOn)+len(m.References))
	var deps []string
	for _, list := range [][]string{m.DependsOn, m.References} {
		for _, d := range list {
			if d == "" || d == m.Name || seen[d] {
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
	}
	sort.Strings(deps)
	return deps
}

// ColumnsToTypes returns declared columns if any, otherwise the propagated ones.
// A nil result means the schema is not known.
func (m *Model) ColumnsToTypes() Columns {
	if len(m.Columns) > 0 {
		return m.Columns
	}
	return m.Resolved
}

// Render returns the most resolved form of the query.
func (m *Model) Render() string {
	switch {
	case m.OptimizedQuery != "":
		return m.OptimizedQuery
	case m.RenderedQuery != "":
		return m.RenderedQuery
	default:
		return m.Query
	}
}

// Validate checks the model definition after columns are known.
func (m *Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if err := m.Kind.Validate(); err != nil {
		return err
	}
	if m.Kind.IsExternal() {
		if m.Query != "" {
			return fmt.Errorf("external model %s cannot define a query", m.Name)
		}
		return nil
	}
	if m.Kind.Name != KindSeed && strings.TrimSpace(m.Query) == "" {
		return fmt.Errorf("model %s has no query", m.Name)
	}

	cols := m.ColumnsToTypes()
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		key := strings.ToLower(col.Name)
		if seen[key] {
			return fmt.Errorf("model %s has duplicate column %q", m.Name, col.Name)
		}
		seen[key] = true
	}
	if cols == nil || slices.Contains(cols.Names(), "*") {
		return nil
	}
	if m.Kind.IsIncremental() && !cols.Has(m.Kind.TimeColumn.Column) {
		return fmt.Errorf("time column %q not found in model %s", m.Kind.TimeColumn.Column, m.Name)
	}
	for _, p := range m.PartitionedBy {
		if !cols.Has(p) {
			return fmt.Errorf("partition column %q not found in model %s", p, m.Name)
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
