package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string)
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name:      "init empty directory",
			wantFiles: []string{"leapmesh.yaml", ".gitignore", "models/example.sql"},
		},
		{
			name: "init existing config without force",
			setupDir: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "leapmesh.yaml"), []byte("existing"), 0o600))
			},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "leapmesh.yaml"), []byte("existing"), 0o600))
			},
			args:      []string{"--force"},
			wantFiles: []string{"leapmesh.yaml", "models"},
		},
		{
			name: "init example",
			args: []string{"--example"},
			wantFiles: []string{
				"leapmesh.yaml",
				"external_models.yaml",
				"macros/helpers.sql",
				"models/sushi/orders.sql",
				"models/sushi/customer_revenue.sql",
				"audits/orders.sql",
				"metrics/revenue.sql",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.setupDir != nil {
				tt.setupDir(t, dir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(append([]string{dir}, tt.args...))

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(f)), "missing %s", f)
			}
		})
	}
}

func TestInitCommand_NewDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "project")

	cmd := NewInitCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	content, err := os.ReadFile(filepath.Join(dir, "leapmesh.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "project_name:")
	assert.Contains(t, string(content), "scheduler:")
	assert.Contains(t, buf.String(), "LeapMesh project initialized")
}

func TestInitCommand_KeepsExistingModels(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "models", "example.sql")
	require.NoError(t, os.MkdirAll(filepath.Dir(model), 0o750))
	require.NoError(t, os.WriteFile(model, []byte("SELECT 2 AS id"), 0o600))

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	content, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2 AS id", string(content))
}

func TestGroupTemplateFiles(t *testing.T) {
	files, err := listTemplateFiles("example")
	require.NoError(t, err)

	groups := groupTemplateFiles(files)
	assert.Contains(t, groups["config"], "leapmesh.yaml")
	assert.Contains(t, groups["config"], ".gitignore")
	assert.Contains(t, groups["models"], "models/sushi/orders.sql")
	assert.Equal(t, []string{"macros/helpers.sql"}, groups["macros"])
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.Flags().Lookup("force"))
	assert.NotNil(t, cmd.Flags().Lookup("example"))
}
