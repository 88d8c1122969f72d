// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/stretchr/testify/require"
)

// ProjectConfig is the leapmesh.yaml written by SetupTestProject.
const ProjectConfig = `project_name: test
dialect: duckdb
variables:
  min_amount: 5
`

// SetupTestProject creates a temporary project with an external source, an
// incremental model and a downstream full model. LEAPMESH_HOME is pointed at
// an empty directory so no global configuration leaks into the test.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	t.Setenv("LEAPMESH_HOME", t.TempDir())
	root := t.TempDir()
	WriteFiles(t, root, map[string]string{
		"leapmesh.yaml": ProjectConfig,
		"external_models.yaml": `- name: raw.orders
  columns:
    id: INT
    amount: DOUBLE
    ds: TEXT
`,
		"models/sushi/orders.sql": `/*---
kind:
  name: incremental_by_time_range
  time_column: ds
---*/
SELECT id, amount, ds FROM raw.orders WHERE amount > {{ var("min_amount") }}
`,
		"models/sushi/totals.sql": "SELECT o.id, o.amount FROM sushi.orders AS o\n",
	})
	return root
}

// WriteFiles writes slash-separated paths relative to root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a renderer writing to buffers.
func NewTestRenderer(mode output.Mode) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRenderer(out, errOut, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// DecodeJSON unmarshals s into a new T, failing the test on error.
func DecodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), "invalid JSON: %s", s)
	return v
}
