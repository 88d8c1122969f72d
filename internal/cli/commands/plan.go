package commands

import (
	"strconv"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/plan"
	"github.com/leapstack-labs/leapmesh/internal/snapshot"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// PlanOptions holds options for the plan command.
type PlanOptions struct {
	Apply        bool
	Remote       bool
	Start        string
	End          string
	Restatements []string
	SkipBackfill bool
	NoGaps       bool
	RequestID    string
}

// PlanOutput is the JSON output of the plan command.
type PlanOutput struct {
	Environment  string             `json:"environment"`
	PlanID       string             `json:"plan_id"`
	RequestID    string             `json:"request_id"`
	DagID        string             `json:"dag_id"`
	Start        string             `json:"start"`
	End          string             `json:"end"`
	NewSnapshots int                `json:"new_snapshots"`
	Changes      []plan.ModelChange `json:"changes"`
	Applied      bool               `json:"applied"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	opts := &PlanOptions{}

	cmd := &cobra.Command{
		Use:   "plan [environment]",
		Short: "Compute the changes needed to update an environment",
		Long: `Fingerprint every model, compare the result with the snapshots bound to the
environment and show which models are new, directly or indirectly modified,
or removed.

With --apply the plan is submitted: to the local state store by default, or
to the scheduler configured under scheduler.url with --remote. Submission is
idempotent per request id.`,
		Example: `  # Show the plan for prod
  leapmesh plan

  # Plan and apply a dev environment
  leapmesh plan dev --apply

  # Reprocess a model over a window on the remote scheduler
  leapmesh plan --apply --remote --restate sushi.orders --start 2024-01-01 --end 2024-01-07`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := core.DefaultEnvironment
			if len(args) > 0 {
				env = args[0]
			}
			return runPlan(cmd, env, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "Submit the plan")
	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "Use the remote scheduler instead of the local state store")
	cmd.Flags().StringVar(&opts.Start, "start", "", "Start of the plan window, YYYY-MM-DD (default yesterday)")
	cmd.Flags().StringVar(&opts.End, "end", "", "End of the plan window, YYYY-MM-DD (default today)")
	cmd.Flags().StringSliceVar(&opts.Restatements, "restate", nil, "Models whose intervals are reprocessed")
	cmd.Flags().BoolVar(&opts.SkipBackfill, "skip-backfill", false, "Bind the environment without processing intervals")
	cmd.Flags().BoolVar(&opts.NoGaps, "no-gaps", false, "Reject plans that leave gaps in processed intervals")
	cmd.Flags().StringVar(&opts.RequestID, "request-id", "", "Idempotency key for the submission (default random)")

	return cmd
}

func runPlan(cmd *cobra.Command, env string, opts *PlanOptions) error {
	ctx := cmd.Context()
	c, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	backend, release, err := c.OpenBackend(ctx, opts.Remote)
	if err != nil {
		return err
	}
	defer release()

	project, err := c.Load(ctx, c.NewLoader(), env, false)
	if err != nil {
		return err
	}

	cfg := c.Settings.Project
	result, err := plan.NewBuilder(backend, plan.WithLogger(c.Logger)).Build(ctx, project, plan.Options{
		Environment:             env,
		PhysicalSchema:          cfg.PhysicalSchema,
		TTL:                     cfg.SnapshotTTL,
		Start:                   opts.Start,
		End:                     opts.End,
		NoGaps:                  opts.NoGaps,
		SkipBackfill:            opts.SkipBackfill,
		Restatements:            opts.Restatements,
		BackfillConcurrentTasks: cfg.Scheduler.BackfillConcurrentTasks,
		DDLConcurrentTasks:      cfg.Scheduler.DDLConcurrentTasks,
		RequestID:               opts.RequestID,
	})
	if err != nil {
		return err
	}

	p := result.Plan
	out := PlanOutput{
		Environment:  env,
		PlanID:       p.Environment.PlanID,
		RequestID:    p.RequestID,
		DagID:        p.DagID(),
		Start:        p.Environment.StartAt,
		End:          p.Environment.EndAt,
		NewSnapshots: len(p.NewSnapshots),
		Changes:      result.Changes,
	}

	if opts.Apply {
		if result.HasChanges() || len(opts.Restatements) > 0 {
			if err := backend.SubmitPlan(ctx, p); err != nil {
				return err
			}
			out.Applied = true
		} else {
			c.Renderer.Warning("No changes to apply")
		}
	}

	if c.Renderer.JSONMode() {
		return c.Renderer.JSON(out)
	}
	planText(c.Renderer, out)
	return nil
}

func planText(r *output.Renderer, out PlanOutput) {
	styles := r.Styles()

	r.Header("Plan: " + out.Environment)
	r.KeyValue("Window", out.Start+" - "+out.End)
	r.KeyValue("Plan ID", out.PlanID)
	r.KeyValue("New snapshots", strconv.Itoa(out.NewSnapshots))
	r.Println("")

	rows := make([][]string, 0, len(out.Changes))
	for _, ch := range out.Changes {
		kind := r.Title(string(ch.Kind))
		switch ch.Kind {
		case snapshot.ChangeNew:
			kind = styles.Added.Render(kind)
		case plan.ChangeRemoved:
			kind = styles.Removed.Render(kind)
		case snapshot.ChangeDirect, snapshot.ChangeIndirect:
			kind = styles.Changed.Render(kind)
		case snapshot.ChangeNone:
			kind = styles.Muted.Render(kind)
		}
		category := ""
		if ch.Category != "" {
			category = r.Title(string(ch.Category))
		}
		rows = append(rows, []string{ch.Name, kind, category, ch.Version})
	}
	r.Table([]string{"Model", "Change", "Category", "Version"}, rows)

	if out.Applied {
		r.Println("")
		r.Success("Plan applied (request " + out.RequestID + ")")
		r.Printf("  track with: leapmesh runs wait %s %s\n", out.DagID, out.PlanID)
	}
}
