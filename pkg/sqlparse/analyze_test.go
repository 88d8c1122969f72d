package sqlparse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Split(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "expression then query",
			input: "@DEF(key, 'value');\n\nSELECT a, ds FROM tbl;",
			want:  []string{"@DEF(key, 'value')", "SELECT a, ds FROM tbl"},
		},
		{
			name:  "semicolon inside string",
			input: "SELECT ';' AS x",
			want:  []string{"SELECT ';' AS x"},
		},
		{
			name:  "empty statements dropped",
			input: ";; SELECT 1 ;",
			want:  []string{"SELECT 1"},
		},
		{
			name:  "only comments",
			input: "-- nothing here",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default{}.Split(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefault_Canonicalize(t *testing.T) {
	a := Default{}.Canonicalize("SELECT  a,\n  b -- trailing\nFROM t")
	b := Default{}.Canonicalize("select a, b /* other */ from t")
	assert.Equal(t, "select a , b from t", a)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Default{}.Canonicalize("SELECT a, c FROM t"))
	assert.NotEqual(t, Default{}.Canonicalize("SELECT 'x'"), Default{}.Canonicalize("SELECT 'X'"))
}

func TestDefault_AnalyzeReferences(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "single table",
			query: "SELECT a FROM sushi.orders",
			want:  []string{"sushi.orders"},
		},
		{
			name: "cte joins and subqueries",
			query: `WITH x AS (SELECT id FROM raw.a)
SELECT x.id, b.v FROM x JOIN raw.b AS b ON x.id = b.id
WHERE b.v IN (SELECT v FROM raw.c)`,
			want: []string{"raw.a", "raw.b", "raw.c"},
		},
		{
			name:  "comma join",
			query: "SELECT * FROM raw.a a, raw.b b WHERE a.id = b.id",
			want:  []string{"raw.a", "raw.b"},
		},
		{
			name:  "function FROM is not a table",
			query: "SELECT EXTRACT(year FROM ds) AS y FROM t",
			want:  []string{"t"},
		},
		{
			name:  "values source",
			query: "SELECT id, ds, FROM (VALUES (1, '2020-01-01')) AS t (id, ds)",
			want:  nil,
		},
		{
			name:  "identifiers are lowercased unless quoted",
			query: `SELECT 1 FROM Sushi.Orders JOIN "Raw"."Items" USING (id)`,
			want:  []string{"Raw.Items", "sushi.orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Default{}.Analyze(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.References)
		})
	}
}

func TestDefault_AnalyzeProjections(t *testing.T) {
	q, err := Default{}.Analyze(
		"SELECT a, t.b, c AS d, CAST(e AS INT) AS e2, f::text, count(*) total, 1, *, t.* FROM t")
	require.NoError(t, err)
	require.Len(t, q.Projections, 9)

	want := []Projection{
		{Name: "a", Column: "a"},
		{Name: "b", Column: "b", Qualifier: "t"},
		{Name: "d", Column: "c"},
		{Name: "e2", Column: "e", Type: "INT"},
		{Name: "f", Column: "f", Type: "text"},
		{Name: "total"},
		{Name: "_col_6"},
		{Star: true},
		{Star: true, Qualifier: "t"},
	}
	for i, w := range want {
		got := q.Projections[i]
		assert.Equal(t, w.Name, got.Name, "projection %d name", i)
		assert.Equal(t, w.Column, got.Column, "projection %d column", i)
		assert.Equal(t, w.Qualifier, got.Qualifier, "projection %d qualifier", i)
		assert.Equal(t, w.Type, got.Type, "projection %d type", i)
		assert.Equal(t, w.Star, got.Star, "projection %d star", i)
	}
	assert.True(t, q.HasStar())

	require.Len(t, q.Sources, 1)
	assert.Equal(t, "t", q.Sources[0].Name)
}

func TestDefault_AnalyzeTrailingComma(t *testing.T) {
	q, err := Default{}.Analyze(`SELECT
    id,
    item_id,
    ds,
  FROM (VALUES (1, 1, '2020-01-01')) AS t (id, item_id, ds)`)
	require.NoError(t, err)

	names := make([]string, len(q.Projections))
	for i, p := range q.Projections {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"id", "item_id", "ds"}, names)
	require.Len(t, q.Sources, 1)
	assert.True(t, q.Sources[0].Derived)
	assert.Equal(t, "t", q.Sources[0].Alias)
}

func TestDefault_AnalyzeCTE(t *testing.T) {
	q, err := Default{}.Analyze("WITH base AS (SELECT id, ds FROM raw.a) SELECT * FROM base")
	require.NoError(t, err)

	cte, ok := q.CTE("BASE")
	require.True(t, ok)
	assert.Len(t, cte.Projections, 2)
	assert.Equal(t, []string{"raw.a"}, q.References)
	assert.Equal(t, "base", q.Sources[0].Name)
}

func TestQuery_ExpandStars(t *testing.T) {
	tests := []struct {
		name  string
		query string
		cols  map[string][]string
		want  string
	}{
		{
			name:  "bare star",
			query: "SELECT * FROM raw.orders",
			cols:  map[string][]string{"": {"id", "item_id", "ds"}},
			want:  "SELECT id, item_id, ds FROM raw.orders",
		},
		{
			name:  "qualified star keeps other projections",
			query: "SELECT o.*, 1 AS x FROM raw.orders AS o",
			cols:  map[string][]string{"o": {"id", "ds"}},
			want:  "SELECT o.id, o.ds, 1 AS x FROM raw.orders AS o",
		},
		{
			name:  "unknown columns leave star",
			query: "SELECT * FROM raw.orders",
			cols:  map[string][]string{},
			want:  "SELECT * FROM raw.orders",
		},
		{
			name:  "quoted column names",
			query: "  SELECT * FROM t",
			cols:  map[string][]string{"": {"Order", "select"}},
			want:  `SELECT "Order", "select" FROM t`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Default{}.Analyze(tt.query)
			require.NoError(t, err)
			got := q.ExpandStars(func(p Projection) []string { return tt.cols[p.Qualifier] })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefault_AnalyzeSyntaxErrors(t *testing.T) {
	for _, input := range []string{"SELECT 'abc", "SELECT (a FROM t", "SELECT a) FROM t"} {
		_, err := Default{}.Analyze(input)
		require.Error(t, err, input)

		var syn *SyntaxError
		assert.True(t, errors.As(err, &syn), input)
	}
}

func TestQuery_SelectListAndFrame(t *testing.T) {
	q, err := Default{}.Analyze("WITH x AS (SELECT 1 AS a) SELECT a, b + 1 AS c, CAST(d AS INT) AS d FROM x WHERE a > 0")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b + 1 AS c", "CAST(d AS INT) AS d"}, q.SelectList())
	assert.Equal(t, "WITH x AS (SELECT 1 AS a) SELECT  FROM x WHERE a > 0", q.Frame())
}
