package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	intconfig "github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(FlagProjectDir, "", "")
	flags.String(FlagOutput, "", "")
	flags.String("gateway", "", "")
	flags.String("log-level", "", "")
	flags.String("log-format", "", "")
	flags.String("scheduler-url", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad(t *testing.T) {
	t.Setenv(intconfig.HomeEnv, t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, intconfig.ConfigFileName), []byte(`
project_name: sushi
gateway: local
log:
  format: json
`), 0o600))

	var logs bytes.Buffer
	s, err := Load(newFlags(t,
		"--project-dir", root,
		"--output", "json",
		"--gateway", "remote",
		"--scheduler-url", "http://airflow:8080/",
	), &logs)
	require.NoError(t, err)

	assert.Equal(t, root, s.ProjectDir)
	assert.Equal(t, []string{filepath.Join(root, intconfig.ConfigFileName)}, s.ConfigFiles)
	assert.Equal(t, output.ModeJSON, s.Output)
	assert.Equal(t, "sushi", s.Project.ProjectName)
	assert.Equal(t, "remote", s.Project.Gateway)
	assert.Equal(t, "http://airflow:8080/", s.Project.Scheduler.URL)

	s.Logger.Info("hello")
	assert.Contains(t, logs.String(), `"msg":"hello"`)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(intconfig.HomeEnv, t.TempDir())
	root := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing project dir", []string{"--project-dir", filepath.Join(root, "missing")}, "does not exist"},
		{"bad output", []string{"--project-dir", root, "--output", "xml"}, "unknown output format"},
		{"bad log level", []string{"--project-dir", root, "--log-level", "loud"}, "unknown log level"},
		{"bad log format", []string{"--project-dir", root, "--log-format", "xml"}, "unknown log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tt.args...), &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	s := &Settings{ProjectDir: "/tmp/project"}
	got, ok := FromContext(WithSettings(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
}
