package macro

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func writeMacros(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "macros")
	require.NoError(t, os.Mkdir(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestLoader_Load(t *testing.T) {
	tests := []struct {
		name           string
		files          map[string]string
		wantErr        bool
		wantNamespaces []string
		checkExports   map[string][]string
	}{
		{
			name:  "empty directory",
			files: map[string]string{},
		},
		{
			name: "single macro with multiple functions",
			files: map[string]string{
				"utils.star": `
def greet(name):
    return "Hello, " + name + "!"

def add(a, b):
    return a + b

_private = "should not be exported"
`,
			},
			wantNamespaces: []string{"utils"},
			checkExports:   map[string][]string{"utils": {"add", "greet"}},
		},
		{
			name: "multiple macro files ignore sql",
			files: map[string]string{
				"datetime.star": "def now():\n    return '2024-01-01'\n",
				"math.star":     "def square(x):\n    return x * x\n",
				"pad.sql":       "{* macro pad(x): *}{{ x }}{* endmacro *}",
			},
			wantNamespaces: []string{"datetime", "math"},
		},
		{
			name:    "syntax error",
			files:   map[string]string{"broken.star": "def broken(:\n    return 1\n"},
			wantErr: true,
		},
		{
			name:    "invalid namespace",
			files:   map[string]string{"123invalid.star": "x = 1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules, err := NewLoader(writeMacros(t, tt.files)).Load()
			if tt.wantErr {
				var loadErr *LoadError
				require.True(t, errors.As(err, &loadErr), "expected *LoadError, got %v", err)
				return
			}
			require.NoError(t, err)

			var namespaces []string
			for _, m := range modules {
				namespaces = append(namespaces, m.Namespace)
				assert.NotEmpty(t, m.Source)
			}
			assert.Equal(t, tt.wantNamespaces, namespaces)

			for _, m := range modules {
				want, ok := tt.checkExports[m.Namespace]
				if !ok {
					continue
				}
				var got []string
				for name := range m.Exports {
					got = append(got, name)
				}
				assert.ElementsMatch(t, want, got)
			}
		})
	}
}

func TestLoader_MissingAndInvalidDirectory(t *testing.T) {
	modules, err := NewLoader("/nonexistent/path/to/macros").Load()
	require.NoError(t, err)
	assert.Nil(t, modules)

	paths, err := NewLoader("/nonexistent/path/to/macros").Paths()
	require.NoError(t, err)
	assert.Nil(t, paths)

	file := filepath.Join(t.TempDir(), "macros")
	require.NoError(t, os.WriteFile(file, []byte("not a dir"), 0o600))
	_, err = NewLoader(file).Load()
	assert.Error(t, err)
}

func TestLoader_SyntaxErrorNamesFile(t *testing.T) {
	dir := writeMacros(t, map[string]string{"broken.star": "def broken(:\n    return 1\n"})

	_, err := NewLoader(dir).Load()
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, filepath.Join(dir, "broken.star"), loadErr.File)
	assert.Contains(t, loadErr.Error(), "macros/broken.star")
}

func TestLoader_ExecuteFunction(t *testing.T) {
	dir := writeMacros(t, map[string]string{"math.star": "def double(x):\n    return x * 2\n"})

	modules, err := NewLoader(dir).Load()
	require.NoError(t, err)
	require.Len(t, modules, 1)

	double := modules[0].Exports["double"]
	require.NotNil(t, double)

	result, err := starlark.Call(&starlark.Thread{Name: "test"}, double, starlark.Tuple{starlark.MakeInt(5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(10), result)
}

func TestLoader_Paths(t *testing.T) {
	dir := writeMacros(t, map[string]string{
		"b.star":    "x = 1",
		"a.sql":     "",
		"notes.txt": "ignored",
	})

	paths, err := NewLoader(dir).Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.sql"), filepath.Join(dir, "b.star")}, paths)
}

func TestLoadAndRegister(t *testing.T) {
	registry, err := LoadAndRegister("/nonexistent/path", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, registry.Len())

	dir := writeMacros(t, map[string]string{
		"utils.star": "def f():\n    return 1\n",
		"sql.sql":    "pad\nlimit",
	})
	// a stand-in parser: one macro per line
	parse := func(path, content string) ([]*Templated, error) {
		var out []*Templated
		for _, name := range strings.Fields(content) {
			out = append(out, &Templated{Name: name, Source: name, Path: path})
		}
		return out, nil
	}

	registry, err = LoadAndRegister(dir, parse)
	require.NoError(t, err)
	assert.True(t, registry.Has("utils"))
	assert.True(t, registry.Has("pad"))
	assert.True(t, registry.Has("limit"))

	failing := func(string, string) ([]*Templated, error) { return nil, errors.New("bad macro") }
	_, err = LoadAndRegister(dir, failing)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "bad macro")
}
