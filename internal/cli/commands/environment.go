package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// NewEnvironmentCommand creates the environment command.
func NewEnvironmentCommand() *cobra.Command {
	var remote, del bool

	cmd := &cobra.Command{
		Use:     "environment [name]",
		Aliases: []string{"env"},
		Short:   "Show environments",
		Long: `Show the snapshots an environment binds. Without a name, list the
environments held by the local state store.`,
		Example: `  # Show prod as recorded by the remote scheduler
  leapmesh environment prod --remote

  # List local environments
  leapmesh environment

  # Forget a local dev environment
  leapmesh environment dev --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}

			if del && len(args) == 0 {
				return errors.New("--delete requires an environment name")
			}
			if len(args) == 0 || del {
				if remote {
					return errors.New("listing and deleting environments is only supported on the local state store")
				}
				store, err := c.OpenStore(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()

				if del {
					if err := store.DeleteEnvironment(ctx, args[0]); err != nil {
						return err
					}
					c.Renderer.Success("Deleted environment " + args[0])
					return nil
				}
				envs, err := store.ListEnvironments(ctx)
				if err != nil {
					return err
				}
				return listEnvironments(c.Renderer, envs)
			}

			backend, release, err := c.OpenBackend(ctx, remote)
			if err != nil {
				return err
			}
			defer release()

			env, err := backend.GetEnvironment(ctx, args[0])
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("environment not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			return showEnvironment(c.Renderer, env)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Read from the remote scheduler")
	cmd.Flags().BoolVar(&del, "delete", false, "Delete the environment from the local state store")
	cmd.MarkFlagsMutuallyExclusive("remote", "delete")
	return cmd
}

func listEnvironments(r *output.Renderer, envs []*core.Environment) error {
	if r.JSONMode() {
		if envs == nil {
			envs = []*core.Environment{}
		}
		return r.JSON(envs)
	}
	rows := make([][]string, 0, len(envs))
	for _, env := range envs {
		rows = append(rows, []string{env.Name, strconv.Itoa(len(env.Snapshots)), env.StartAt + " - " + env.EndAt, env.PlanID})
	}
	r.Table([]string{"Environment", "Models", "Window", "Plan ID"}, rows)
	return nil
}

func showEnvironment(r *output.Renderer, env *core.Environment) error {
	if r.JSONMode() {
		return r.JSON(env)
	}
	r.Header("Environment: " + env.Name)
	r.KeyValue("Window", env.StartAt+" - "+env.EndAt)
	r.KeyValue("Plan ID", env.PlanID)
	if env.PreviousPlanID != nil {
		r.KeyValue("Previous plan", *env.PreviousPlanID)
	}
	r.Println("")

	rows := make([][]string, 0, len(env.Snapshots))
	for _, s := range env.Snapshots {
		rows = append(rows, []string{s.Name, s.Identifier(), s.Version, s.TableName()})
	}
	r.Table([]string{"Model", "Identifier", "Version", "Table"}, rows)
	return nil
}
