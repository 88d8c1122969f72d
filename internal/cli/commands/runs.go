package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// RunStateOutput is the JSON output of the runs commands.
type RunStateOutput struct {
	DagID string `json:"dag_id"`
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// NewRunsCommand creates the runs command group.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect plan application runs",
		Long: `Inspect the runs that apply submitted plans. A run is addressed by the dag
id and run id printed when a plan is applied.`,
	}
	cmd.PersistentFlags().Bool("remote", false, "Query the remote scheduler")
	cmd.AddCommand(newRunsStateCommand(), newRunsWaitCommand())
	return cmd
}

func newRunsStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state <dag-id> <run-id>",
		Short: "Show the state of a run",
		Example: `  leapmesh runs state sqlmesh_plan_application__prod__5f0c 9b1d --remote`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			remote, _ := cmd.Flags().GetBool("remote")
			backend, release, err := c.OpenBackend(ctx, remote)
			if err != nil {
				return err
			}
			defer release()

			state, err := runState(ctx, backend, args[0], args[1])
			if err != nil {
				return err
			}
			return renderRunState(c, RunStateOutput{DagID: args[0], RunID: args[1], State: state})
		},
	}
}

func newRunsWaitCommand() *cobra.Command {
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <dag-id> <run-id>",
		Short: "Wait for a run to finish",
		Long: `Poll a run until it reaches success or failed. The command fails when the
run fails or the timeout elapses.`,
		Example: `  # Wait up to ten minutes for a plan application
  leapmesh runs wait sqlmesh_plan_application__prod__5f0c 9b1d --remote --timeout 10m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			remote, _ := cmd.Flags().GetBool("remote")
			backend, release, err := c.OpenBackend(ctx, remote)
			if err != nil {
				return err
			}
			defer release()

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			state, err := waitForRun(ctx, backend, args[0], args[1], interval)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("run %s did not finish within %s", args[1], timeout)
			}
			if err != nil {
				return err
			}
			if err := renderRunState(c, RunStateOutput{DagID: args[0], RunID: args[1], State: state}); err != nil {
				return err
			}
			if state == core.DagRunFailed {
				return fmt.Errorf("run %s failed", args[1])
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

type runStateGetter interface {
	GetDagRunState(ctx context.Context, dagID, runID string) (string, error)
}

func runState(ctx context.Context, g runStateGetter, dagID, runID string) (string, error) {
	state, err := g.GetDagRunState(ctx, dagID, runID)
	if errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("run not found: %s/%s", dagID, runID)
	}
	return state, err
}

// waitForRun polls until the run reaches a terminal state or ctx ends.
func waitForRun(ctx context.Context, g runStateGetter, dagID, runID string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := runState(ctx, g, dagID, runID)
		if err != nil {
			return "", err
		}
		if core.DagRunFinished(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func renderRunState(c *CommandContext, out RunStateOutput) error {
	r := c.Renderer
	if r.JSONMode() {
		return r.JSON(out)
	}
	styles := r.Styles()
	state := out.State
	switch out.State {
	case core.DagRunSuccess:
		state = styles.Success.Render(state)
	case core.DagRunFailed:
		state = styles.Error.Render(state)
	default:
		state = styles.Warning.Render(state)
	}
	r.KeyValue("Dag", out.DagID)
	r.KeyValue("Run", out.RunID)
	r.KeyValue("State", state)
	return nil
}
