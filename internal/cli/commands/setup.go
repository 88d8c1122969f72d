package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapmesh/internal/cli/config"
	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	intconfig "github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/leapstack-labs/leapmesh/internal/loader"
	"github.com/leapstack-labs/leapmesh/internal/plan"
	"github.com/leapstack-labs/leapmesh/internal/scheduler"
	"github.com/leapstack-labs/leapmesh/internal/state"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Settings *config.Settings
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext reads the settings resolved by the root command.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	s, ok := config.FromContext(cmd.Context())
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return &CommandContext{
		Settings: s,
		Logger:   s.Logger,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), s.Output),
	}, nil
}

// NewLoader creates a loader over the project root.
func (c *CommandContext) NewLoader(opts ...loader.Option) *loader.Loader {
	opts = append([]loader.Option{loader.WithLogger(c.Logger)}, opts...)
	scopes := []loader.Scope{{Root: c.Settings.ProjectDir, Config: c.Settings.Project}}
	return loader.New(scopes, opts...)
}

// Load loads the project with templates rendered for env.
func (c *CommandContext) Load(ctx context.Context, l *loader.Loader, env string, skipSchema bool) (*loader.LoadedProject, error) {
	project, err := l.Load(ctx, loader.LoadOptions{Env: env, SkipSchema: skipSchema})
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return project, nil
}

// StatePath is the resolved local state database path.
func (c *CommandContext) StatePath() string {
	return intconfig.ResolvePath(c.Settings.ProjectDir, c.Settings.Project.State.Path)
}

// OpenStore opens the local state store, creating it if needed.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.Store, error) {
	store, err := state.Open(ctx, c.StatePath(), state.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}

// NewClient creates a scheduler client from the scheduler section.
func (c *CommandContext) NewClient() (*scheduler.Client, error) {
	sc := c.Settings.Project.Scheduler
	opts := []scheduler.Option{
		scheduler.WithLogger(c.Logger),
		scheduler.WithTimeout(sc.Timeout),
	}
	if sc.Username != "" {
		opts = append(opts, scheduler.WithBasicAuth(sc.Username, sc.Password))
	}
	return scheduler.NewClient(sc.URL, opts...)
}

// Backend is where plans are built against and submitted to: the local
// state store or a remote scheduler.
type Backend interface {
	plan.StateReader
	plan.Applier
	GetDagRunState(ctx context.Context, dagID, runID string) (string, error)
}

// OpenBackend returns the remote scheduler when remote is set and the local
// store otherwise. The returned func releases it.
func (c *CommandContext) OpenBackend(ctx context.Context, remote bool) (Backend, func(), error) {
	if remote {
		client, err := c.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
	store, err := c.OpenStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
