package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/leapstack-labs/leapmesh/internal/dag"
	"github.com/leapstack-labs/leapmesh/internal/schema"
	"github.com/leapstack-labs/leapmesh/internal/testutil"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ordersSQL = `/*---
kind:
  name: incremental_by_time_range
  time_column: ds
columns:
  id: INT
  ds: TEXT
---*/
SELECT id, ds FROM raw.orders
`
	externalYAML = `- name: raw.orders
  owner: ingest
  columns:
    id: INT
    ds: TEXT
    amount: DOUBLE
`
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func newTestLoader(t *testing.T, root string, cfg *core.ProjectConfig, opts ...Option) *Loader {
	t.Helper()
	if cfg == nil {
		cfg = &core.ProjectConfig{}
	}
	config.ApplyDefaults(cfg)
	opts = append([]Option{
		WithLogger(testutil.NewTestLogger(t)),
		WithGlobalDir(t.TempDir()),
	}, opts...)
	return New([]Scope{{Root: root, Config: cfg}}, opts...)
}

func load(t *testing.T, l *Loader, opts LoadOptions) *LoadedProject {
	t.Helper()
	project, err := l.Load(context.Background(), opts)
	require.NoError(t, err)
	return project
}

func TestLoad_Project(t *testing.T) {
	root := writeProject(t, map[string]string{
		"external_models.yaml":             externalYAML,
		"models/sushi/orders.sql":          ordersSQL,
		"models/sushi/customer_totals.sql": "SET threads = 4;\nSELECT o.id FROM sushi.orders AS o\n",
	})

	project := load(t, newTestLoader(t, root, nil), LoadOptions{})

	assert.Equal(t, []string{"sushi.customer_totals", "sushi.orders", "raw.orders"}, project.Models.Keys())

	orders, ok := project.Models.Get("sushi.orders")
	require.True(t, ok)
	assert.Equal(t, core.KindIncrementalByTimeRange, orders.Kind.Name)
	assert.Equal(t, "duckdb", orders.Dialect)
	assert.Equal(t, "@daily", orders.Cron)
	assert.Equal(t, core.SourceSQL, orders.SourceType)
	assert.Equal(t, []string{"raw.orders"}, orders.References)
	assert.Equal(t, filepath.Join(root, "models", "sushi", "orders.sql"), orders.Path)

	totals, ok := project.Models.Get("sushi.customer_totals")
	require.True(t, ok)
	assert.Equal(t, []string{"SET threads = 4"}, totals.Expressions)
	assert.Equal(t, "SELECT o.id FROM sushi.orders AS o", totals.Query)
	assert.Equal(t, []string{"sushi.orders"}, totals.Dependencies())
	assert.Equal(t, []string{"id"}, totals.ColumnsToTypes().Names())

	raw, ok := project.Models.Get("raw.orders")
	require.True(t, ok)
	assert.True(t, raw.Kind.IsExternal())
	assert.Equal(t, "ingest", raw.Owner)

	assert.Equal(t, []string{"raw.orders"}, project.Graph.Parents("sushi.orders"))
	assert.Equal(t, []string{"sushi.orders"}, project.Graph.Parents("sushi.customer_totals"))

	require.NotNil(t, project.Schema)
	cols, ok := project.Schema.Columns("raw.orders")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "ds", "amount"}, cols.Names())
}

func TestLoad_Templates(t *testing.T) {
	root := writeProject(t, map[string]string{
		"macros/helpers.sql": `{* macro cents(col): *}{{ col }} / 100{* endmacro *}`,
		"models/report.sql":  `SELECT {{ cents("amount") }} AS dollars FROM raw.orders WHERE amount > {{ var("min_amount") }}`,
		"models/env.sql":     `SELECT '{{ env }}' AS env`,
	})
	cfg := &core.ProjectConfig{Variables: map[string]any{"min_amount": 10}}

	project := load(t, newTestLoader(t, root, cfg), LoadOptions{Env: "dev", SkipSchema: true})

	report, ok := project.Models.Get("report")
	require.True(t, ok)
	assert.Equal(t, "SELECT amount / 100 AS dollars FROM raw.orders WHERE amount > 10", report.RenderedQuery)
	assert.Contains(t, report.Query, `{{ cents("amount") }}`)
	require.Contains(t, report.Macros, "cents")
	assert.Contains(t, report.Macros["cents"], "macro cents(col)")
	assert.Contains(t, report.Variables, "min_amount")

	env, ok := project.Models.Get("env")
	require.True(t, ok)
	assert.Equal(t, "SELECT 'dev' AS env", env.RenderedQuery)
	assert.Nil(t, env.Macros)

	assert.True(t, project.Macros.Has("cents"))
	require.Len(t, project.TemplatedMacros, 1)
}

func TestLoad_SkipsEmptyAndIgnoredFiles(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/a.sql":         "SELECT 1 AS id",
		"models/empty.sql":     "",
		"models/scratch/x.sql": "this is not sql (",
		"models/notes.txt":     "not a model",
	})
	cfg := &core.ProjectConfig{Ignore: []string{"models/scratch/**"}}

	project := load(t, newTestLoader(t, root, cfg), LoadOptions{})
	assert.Equal(t, []string{"a"}, project.Models.Keys())
}

func TestLoad_NativeModels(t *testing.T) {
	root := writeProject(t, map[string]string{
		"external_models.yaml": externalYAML,
		"models/native.star": `
def regional(region):
    model(
        name = "sushi.orders_" + region,
        query = "SELECT id, ds FROM raw.orders WHERE region = '%s'" % region,
    )

regional("us")
regional("eu")
`,
	})

	project := load(t, newTestLoader(t, root, nil), LoadOptions{})

	us, ok := project.Models.Get("sushi.orders_us")
	require.True(t, ok)
	assert.Equal(t, core.SourceStarlark, us.SourceType)
	assert.Equal(t, []string{"raw.orders"}, us.References)
	assert.Equal(t, []string{"id", "ds"}, us.ColumnsToTypes().Names())
	assert.True(t, project.Models.Has("sushi.orders_eu"))
}

func TestLoad_Audits(t *testing.T) {
	root := writeProject(t, map[string]string{
		"audits/checks.sql": `/*---
name: not_null
defaults:
  column: id
---*/
SELECT * FROM @this_model WHERE @column IS NULL;

/*---
name: positive
blocking: false
---*/
SELECT * FROM @this_model WHERE amount < 0;
`,
		"audits/unique_ids.sql": "SELECT id FROM @this_model GROUP BY id HAVING COUNT(*) > 1",
	})

	project := load(t, newTestLoader(t, root, nil), LoadOptions{})
	assert.Equal(t, []string{"not_null", "positive", "unique_ids"}, project.Audits.Keys())

	notNull, _ := project.Audits.Get("not_null")
	assert.True(t, notNull.Blocking)
	assert.Equal(t, "SELECT * FROM @this_model WHERE @column IS NULL", notNull.Query)
	assert.Equal(t, map[string]string{"column": "id"}, notNull.Defaults)

	positive, _ := project.Audits.Get("positive")
	assert.False(t, positive.Blocking)

	unique, _ := project.Audits.Get("unique_ids")
	assert.True(t, unique.Blocking)
	assert.Equal(t, "duckdb", unique.Dialect)
}

func TestLoad_AuditErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "/*---\nblocking: true\n---*/\nSELECT 1", "audit name is required"},
		{"no query", "/*---\nname: a\n---*/\n", "has no query"},
		{"leading text", "SELECT 0;\n/*---\nname: a\n---*/\nSELECT 1", "text before the first audit"},
		{"unknown field", "/*---\nname: a\nseverity: high\n---*/\nSELECT 1", `unknown field "severity"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeProject(t, map[string]string{"audits/a.sql": tt.content})
			_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Metrics(t *testing.T) {
	root := writeProject(t, map[string]string{
		"metrics/revenue.sql": `/*---
name: total_revenue
owner: finance
---*/
SUM(amount)

/*---
name: order_count
---*/
COUNT(DISTINCT id)

/*---
name: revenue_per_order
---*/
total_revenue / order_count
`,
	})

	project := load(t, newTestLoader(t, root, nil), LoadOptions{})
	require.Equal(t, 3, project.Metrics.Len())

	total, _ := project.Metrics.Get("total_revenue")
	assert.Equal(t, "SUM(amount)", total.Expression)
	assert.Equal(t, "SUM(amount)", total.Expanded)
	assert.Equal(t, "finance", total.Owner)

	ratio, _ := project.Metrics.Get("revenue_per_order")
	assert.Equal(t, "total_revenue / order_count", ratio.Expression)
	assert.Equal(t, "(SUM(amount)) / (COUNT(DISTINCT id))", ratio.Expanded)
}

func TestExpandMetrics(t *testing.T) {
	metrics := core.NewUniqueMap[*core.Metric]("metrics")
	for _, m := range []*core.Metric{
		{Name: "a", Expression: "SUM(x)"},
		{Name: "b", Expression: "a / t.a + a(1)"},
		{Name: "c", Expression: "b * 2"},
	} {
		require.NoError(t, metrics.Set(m.Name, m))
	}

	require.NoError(t, ExpandMetrics(metrics))

	b, _ := metrics.Get("b")
	assert.Equal(t, "(SUM(x)) / t.a + a(1)", b.Expanded)
	c, _ := metrics.Get("c")
	assert.Equal(t, "((SUM(x)) / t.a + a(1)) * 2", c.Expanded)
}

func TestExpandMetrics_Cycle(t *testing.T) {
	metrics := core.NewUniqueMap[*core.Metric]("metrics")
	require.NoError(t, metrics.Set("a", &core.Metric{Name: "a", Expression: "b + 1"}))
	require.NoError(t, metrics.Set("b", &core.Metric{Name: "b", Expression: "a * 2"}))

	err := ExpandMetrics(metrics)
	require.Error(t, err)

	var cycle *MetricCycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Metrics)
}

func TestLoad_DuplicateModel(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/a.sql": "/*---\nname: sushi.orders\n---*/\nSELECT 1 AS id",
		"models/b.sql": "/*---\nname: SUSHI.ORDERS\n---*/\nSELECT 2 AS id",
	})

	_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{})
	require.Error(t, err)

	var dup *core.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "sushi.orders", dup.Key)
}

func TestLoad_Cycle(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/a.sql": "SELECT id FROM b",
		"models/b.sql": "SELECT id FROM a",
	})

	_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{SkipSchema: true})
	require.Error(t, err)

	var cycle *dag.CycleError
	require.True(t, errors.As(err, &cycle))
}

func TestLoad_NestingMismatch(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/sushi/orders.sql": "SELECT 1 AS id",
		"models/top.sql":          "SELECT id FROM sushi.orders",
	})

	_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{})
	require.Error(t, err)
	assert.True(t, core.IsNestingError(err))

	project, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{SkipSchema: true})
	require.NoError(t, err)
	assert.Nil(t, project.Schema)
	assert.Equal(t, 2, project.Models.Len())
}

func TestLoad_UnknownFrontmatterField(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/bad.sql": "/*---\nmaterialized: table\n---*/\nSELECT 1",
	})

	_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{})
	require.Error(t, err)

	var ufe *UnknownFieldError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, 2, ufe.Line)
	assert.Equal(t, filepath.Join("models", "bad.sql"), ufe.File)
}

func TestLoad_ExternalModelInSQLFile(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/bad.sql": "/*---\nkind: external\n---*/\nSELECT 1",
	})

	_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ExternalModelsFile)
}

func TestLoad_ReloadNeeded(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/a.sql": "SELECT 1 AS id",
		"models/b.sql": "SELECT id FROM a",
	})
	l := newTestLoader(t, root, nil)
	assert.False(t, l.ReloadNeeded())

	load(t, l, LoadOptions{})
	assert.False(t, l.ReloadNeeded())
	assert.Contains(t, l.TrackedPaths(), filepath.Join(root, "models", "a.sql"))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "models", "a.sql"), future, future))
	assert.True(t, l.ReloadNeeded())

	load(t, l, LoadOptions{})
	assert.False(t, l.ReloadNeeded())

	require.NoError(t, os.Remove(filepath.Join(root, "models", "b.sql")))
	assert.True(t, l.ReloadNeeded())
}

func TestLoad_SeedModel(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/sushi/waiters.sql": "/*---\nkind:\n  name: seed\n  path: seeds/waiters.csv\n---*/\n",
		"seeds/waiters.csv":        "id,name\n1,jen\n",
	})
	seedPath := filepath.Join(root, "seeds", "waiters.csv")
	l := newTestLoader(t, root, nil)

	first := load(t, l, LoadOptions{})
	m, ok := first.Models.Get("sushi.waiters")
	require.True(t, ok)
	assert.Equal(t, core.KindSeed, m.Kind.Name)
	assert.NotEmpty(t, m.SeedHash)
	assert.Contains(t, l.TrackedPaths(), seedPath)
	assert.False(t, l.ReloadNeeded())

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(seedPath, []byte("id,name\n1,jen\n2,max\n"), 0o600))
	require.NoError(t, os.Chtimes(seedPath, future, future))
	assert.True(t, l.ReloadNeeded())

	// the model file is unchanged and served from cache; the seed is re-read
	second := load(t, l, LoadOptions{})
	m2, _ := second.Models.Get("sushi.waiters")
	assert.NotEqual(t, m.SeedHash, m2.SeedHash)
}

func TestLoad_MissingSeed(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/waiters.sql": "/*---\nkind:\n  name: seed\n  path: seeds/missing.csv\n---*/\n",
	})

	_, err := newTestLoader(t, root, nil).Load(context.Background(), LoadOptions{})
	var cfgErr *core.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "failed to read seed", cfgErr.Message)
}

func TestLoad_UsesModelCache(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/a.sql": "SELECT 1 AS id",
		"models/b.sql": "SELECT id FROM a",
	})
	reg := prometheus.NewRegistry()
	l := newTestLoader(t, root, nil, WithMetrics(reg))

	first := load(t, l, LoadOptions{})
	assert.Equal(t, 0.0, counterValue(t, reg, "leapmesh_cache_hits_total", ModelCacheNamespace))
	assert.Equal(t, 2.0, counterValue(t, reg, "leapmesh_cache_misses_total", ModelCacheNamespace))

	second := load(t, l, LoadOptions{})
	assert.Equal(t, 2.0, counterValue(t, reg, "leapmesh_cache_hits_total", ModelCacheNamespace))

	a1, _ := first.Models.Get("a")
	a2, _ := second.Models.Get("a")
	assert.Equal(t, a1.RenderedQuery, a2.RenderedQuery)
	assert.NotSame(t, a1, a2)

	// another env renders differently, so it must not reuse the entries
	load(t, l, LoadOptions{Env: "dev"})
	assert.Equal(t, 4.0, counterValue(t, reg, "leapmesh_cache_misses_total", ModelCacheNamespace))

	assert.DirExists(t, filepath.Join(root, config.DefaultCacheDir))
}

func TestLoad_ModelCacheInvalidation(t *testing.T) {
	root := writeProject(t, map[string]string{
		"macros/helpers.sql": `{* macro cents(col): *}{{ col }} / 100{* endmacro *}`,
		"models/a.sql":       "SELECT {{ cents('amount') }} AS dollars FROM raw.orders",
	})
	cfg := &core.ProjectConfig{
		Gateways: map[string]*core.GatewayConfig{
			"local":     {DefaultCatalog: "memory"},
			"warehouse": {DefaultCatalog: "analytics"},
		},
	}
	reg := prometheus.NewRegistry()
	l := newTestLoader(t, root, cfg, WithMetrics(reg))
	misses := func() float64 {
		return counterValue(t, reg, "leapmesh_cache_misses_total", ModelCacheNamespace)
	}
	hits := func() float64 {
		return counterValue(t, reg, "leapmesh_cache_hits_total", ModelCacheNamespace)
	}

	load(t, l, LoadOptions{Gateway: "local", SkipSchema: true})
	require.Equal(t, 1.0, misses())
	load(t, l, LoadOptions{Gateway: "local", SkipSchema: true})
	require.Equal(t, 1.0, hits())

	// touching a macro file invalidates every model of the scope
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "macros", "helpers.sql"), future, future))
	load(t, l, LoadOptions{Gateway: "local", SkipSchema: true})
	assert.Equal(t, 2.0, misses())

	// a gateway with another default catalog does not reuse the entry
	project := load(t, l, LoadOptions{Gateway: "warehouse", SkipSchema: true})
	assert.Equal(t, 3.0, misses())
	a, _ := project.Models.Get("a")
	assert.Equal(t, "SELECT amount / 100 AS dollars FROM raw.orders", a.RenderedQuery)

	load(t, l, LoadOptions{Gateway: "warehouse", SkipSchema: true})
	assert.Equal(t, 2.0, hits())
	assert.Equal(t, 3.0, misses())
}

func TestLoad_UnknownGateway(t *testing.T) {
	root := writeProject(t, map[string]string{
		"models/a.sql": "SELECT '{{ target.gateway }}' AS gw",
	})
	cfg := &core.ProjectConfig{
		Gateways: map[string]*core.GatewayConfig{"local": {DefaultCatalog: "memory"}},
	}

	project := load(t, newTestLoader(t, root, cfg), LoadOptions{Gateway: "missing"})
	a, _ := project.Models.Get("a")
	assert.Equal(t, "SELECT '' AS gw", a.RenderedQuery)

	project = load(t, newTestLoader(t, root, cfg), LoadOptions{Gateway: "local"})
	a, _ = project.Models.Get("a")
	assert.Equal(t, "SELECT 'local' AS gw", a.RenderedQuery)
}

func TestLoad_MultipleScopes(t *testing.T) {
	first := writeProject(t, map[string]string{"models/a.sql": "SELECT 1 AS id"})
	second := writeProject(t, map[string]string{"models/b.sql": "SELECT id FROM a"})

	l := New([]Scope{{Root: first}, {Root: second}},
		WithLogger(testutil.NewTestLogger(t)),
		WithGlobalDir(t.TempDir()))
	project := load(t, l, LoadOptions{})

	assert.ElementsMatch(t, []string{"a", "b"}, project.Models.Keys())
	assert.Equal(t, []string{"a"}, project.Graph.Parents("b"))

	// optimized queries are cached by the scope that defines the model
	optimized := func(root, model string) string {
		return filepath.Join(root, config.DefaultCacheDir, schema.OptimizedQueryNamespace, schema.EntryName(model)+".json")
	}
	assert.FileExists(t, optimized(first, "a"))
	assert.FileExists(t, optimized(second, "b"))
	assert.NoFileExists(t, optimized(first, "b"))

	dup := writeProject(t, map[string]string{"models/a.sql": "SELECT 2 AS id"})
	l = New([]Scope{{Root: first}, {Root: dup}}, WithGlobalDir(t.TempDir()))
	_, err := l.Load(context.Background(), LoadOptions{})
	var dupErr *core.DuplicateKeyError
	assert.True(t, errors.As(err, &dupErr))
}

func TestLoad_Canceled(t *testing.T) {
	root := writeProject(t, map[string]string{"models/a.sql": "SELECT 1 AS id"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader(t, root, nil).Load(ctx, LoadOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, namespace string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "namespace" && lp.GetValue() == namespace {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
