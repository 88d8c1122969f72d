package starlark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestConfigToStarlark(t *testing.T) {
	v, err := ConfigToStarlark(map[string]any{
		"name": "sushi.orders",
		"tags": []string{"a", "b"},
	})
	require.NoError(t, err)

	dict, ok := v.(*starlark.Dict)
	require.True(t, ok)
	assert.Equal(t, 2, dict.Len())

	name, found, err := dict.Get(starlark.String("name"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, starlark.String("sushi.orders"), name)

	empty, err := ConfigToStarlark(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.(*starlark.Dict).Len())
}

func TestPredeclared(t *testing.T) {
	t.Run("without target", func(t *testing.T) {
		globals := Predeclared(nil, "dev", nil, nil)
		assert.Equal(t, starlark.String("dev"), globals["env"])
		assert.Equal(t, starlark.None, globals["gateway"])
		assert.NotNil(t, globals["config"])
		assert.NotContains(t, globals, "target")
		assert.NotContains(t, globals, "this")
	})

	t.Run("with target and gateway", func(t *testing.T) {
		globals := Predeclared(nil, "prod", &TargetInfo{Dialect: "duckdb", Gateway: "main"}, NewThisInfo("db.sushi.items"))
		assert.Equal(t, starlark.String("main"), globals["gateway"])
		assert.Contains(t, globals, "target")

		this, ok := globals["this"].(starlark.HasAttrs)
		require.True(t, ok)
		schema, err := this.Attr("schema")
		require.NoError(t, err)
		assert.Equal(t, starlark.String("db.sushi"), schema)
	})
}

func TestVarBuiltin_Arguments(t *testing.T) {
	ctx := NewContext(nil, "prod", nil, nil)
	_, err := ctx.EvalExpr(`var()`, "m.sql", 1)
	assert.Error(t, err)
	_, err = ctx.EvalExpr(`var(1)`, "m.sql", 1)
	assert.Error(t, err)
}
