package starlark

import (
	"fmt"
	"sync"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"go.starlark.net/starlark"
)

// NativeRegistry collects models defined through the model(...) builtin.
// One registry is threaded through a load; nothing is registered globally.
type NativeRegistry struct {
	mu     sync.Mutex
	models []*core.Model
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{}
}

// Define appends a model.
func (r *NativeRegistry) Define(m *core.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, m)
}

// Models returns the defined models in definition order.
func (r *NativeRegistry) Models() []*core.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.Model(nil), r.models...)
}

// ModelDefaults supplies project-level defaults for native models.
type ModelDefaults struct {
	Dialect string
	Cron    string
}

// ExecModelFile executes a .star model file with the model(...) builtin
// bound to registry. Macros and variables from ctx are visible to the file.
func ExecModelFile(path string, src []byte, registry *NativeRegistry, defaults ModelDefaults, ctx *ExecutionContext) error {
	predeclared := starlark.StringDict{}
	if ctx != nil {
		for k, v := range ctx.Globals() {
			predeclared[k] = v
		}
	}
	predeclared["model"] = starlark.NewBuiltin("model", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		m, err := modelFromArgs(b, args, kwargs, defaults)
		if err != nil {
			return nil, err
		}
		m.Path = path
		registry.Define(m)
		return starlark.None, nil
	})

	thread := &starlark.Thread{
		Name:  "model:" + path,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	if _, err := starlark.ExecFile(thread, path, src, predeclared); err != nil { //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
		return fmt.Errorf("failed to execute %s: %w", path, err)
	}
	return nil
}

func modelFromArgs(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, defaults ModelDefaults) (*core.Model, error) {
	var (
		name, query, kind, timeColumn, timeFormat string
		cron, dialect, owner, description, start  string
		storageFormat, seedPath                   string
		tags, dependsOn, partitionedBy            *starlark.List
		pre, post, audits                         *starlark.List
		columns                                   *starlark.Dict
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"query?", &query,
		"kind?", &kind,
		"time_column?", &timeColumn,
		"time_column_format?", &timeFormat,
		"seed_path?", &seedPath,
		"cron?", &cron,
		"dialect?", &dialect,
		"owner?", &owner,
		"description?", &description,
		"start?", &start,
		"storage_format?", &storageFormat,
		"tags?", &tags,
		"depends_on?", &dependsOn,
		"partitioned_by?", &partitionedBy,
		"columns?", &columns,
		"pre?", &pre,
		"post?", &post,
		"audits?", &audits,
	); err != nil {
		return nil, err
	}

	kindName, err := core.ParseKindName(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	m := &core.Model{
		Name:          name,
		Kind:          core.Kind{Name: kindName, Path: seedPath},
		Dialect:       firstNonEmpty(dialect, defaults.Dialect),
		Cron:          firstNonEmpty(cron, defaults.Cron, "@daily"),
		Owner:         owner,
		Description:   description,
		Start:         start,
		StorageFormat: storageFormat,
		Query:         query,
		SourceType:    core.SourceStarlark,
	}
	if timeColumn != "" {
		m.Kind.TimeColumn = &core.TimeColumn{Column: timeColumn, Format: timeFormat}
	}

	lists := []struct {
		field string
		src   *starlark.List
		dst   *[]string
	}{
		{"tags", tags, &m.Tags},
		{"depends_on", dependsOn, &m.DependsOn},
		{"partitioned_by", partitionedBy, &m.PartitionedBy},
		{"pre", pre, &m.Pre},
		{"post", post, &m.Post},
		{"audits", audits, &m.Audits},
	}
	for _, l := range lists {
		vals, err := stringList(l.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", b.Name(), l.field, err)
		}
		*l.dst = vals
	}

	if columns != nil {
		for _, item := range columns.Items() {
			col, ok1 := starlark.AsString(item[0])
			typ, ok2 := starlark.AsString(item[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%s: columns must map strings to strings", b.Name())
			}
			m.Columns = append(m.Columns, core.Column{Name: col, Type: typ})
		}
	}

	if err := m.Kind.Validate(); err != nil {
		return nil, fmt.Errorf("%s: model %s: %w", b.Name(), name, err)
	}
	return m, nil
}

func stringList(l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	out := make([]string, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		s, ok := starlark.AsString(l.Index(i))
		if !ok {
			return nil, fmt.Errorf("element %d is %s, want string", i, l.Index(i).Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
