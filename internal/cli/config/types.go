// Package config resolves the settings shared by every CLI command and
// carries them through the command context.
//
// Project configuration itself is layered by internal/config; this package
// adds the CLI-only pieces: where the project lives, the output mode and the
// logger built from the log section.
package config

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Settings are resolved once per invocation, before the command runs.
type Settings struct {
	// ProjectDir is the absolute project root
	ProjectDir string
	// ConfigFiles are the config files that were read, global first
	ConfigFiles []string
	Output      output.Mode
	Project     *core.ProjectConfig
	Logger      *slog.Logger
}

// settingsKey is used to store settings in context.
type settingsKey struct{}

// WithSettings returns a copy of ctx carrying s.
func WithSettings(ctx context.Context, s *Settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

// FromContext retrieves the settings stored by WithSettings.
func FromContext(ctx context.Context) (*Settings, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(settingsKey{}).(*Settings)
	return s, ok && s != nil
}
