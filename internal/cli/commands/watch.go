package commands

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/loader"
	"github.com/leapstack-labs/leapmesh/internal/plan"
	"github.com/leapstack-labs/leapmesh/internal/watch"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var env string
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [environment]",
		Short: "Reload the project and re-plan on every change",
		Long: `Watch the project's definition files. After every change the project is
reloaded, reusing cached definitions for unchanged files, and the plan for the
environment is recomputed against the local state store. Nothing is applied.`,
		Example: `  # Watch and plan against prod
  leapmesh watch

  # Watch a dev environment
  leapmesh watch dev`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				env = args[0]
			}
			return runWatch(cmd, env, debounce)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before reloading")
	return cmd
}

func runWatch(cmd *cobra.Command, env string, debounce time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if env == "" {
		env = core.DefaultEnvironment
	}

	store, err := c.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	w, err := watch.New([]string{c.Settings.ProjectDir},
		watch.WithDebounce(debounce),
		watch.WithLogger(c.Logger),
	)
	if err != nil {
		return err
	}
	changes, unsubscribe := w.Subscribe()
	defer unsubscribe()

	l := c.NewLoader()
	builder := plan.NewBuilder(store, plan.WithLogger(c.Logger))
	replan := func() {
		if err := watchPlan(ctx, c, l, builder, env); err != nil {
			c.Renderer.Warning(err.Error())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		replan()
		c.Renderer.Println("Watching " + c.Settings.ProjectDir + " (ctrl-c to stop)")
		for {
			select {
			case <-gctx.Done():
				return nil
			case ch, ok := <-changes:
				if !ok {
					return nil
				}
				// New files are not tracked yet
				if !l.ReloadNeeded() && slices.Contains(l.TrackedPaths(), ch.Path) {
					c.Logger.Debug("change did not affect tracked files", "path", ch.Path)
					continue
				}
				c.Renderer.Println("")
				c.Renderer.Println(c.Renderer.Styles().Muted.Render(ch.At.Format(time.TimeOnly) + " " + ch.Path + " changed"))
				replan()
			}
		}
	})
	return g.Wait()
}

func watchPlan(ctx context.Context, c *CommandContext, l *loader.Loader, builder *plan.Builder, env string) error {
	project, err := c.Load(ctx, l, env, false)
	if err != nil {
		return err
	}
	cfg := c.Settings.Project
	result, err := builder.Build(ctx, project, plan.Options{
		Environment:    env,
		PhysicalSchema: cfg.PhysicalSchema,
		TTL:            cfg.SnapshotTTL,
	})
	if err != nil {
		return err
	}

	if !result.HasChanges() {
		c.Renderer.Success(strconv.Itoa(project.Models.Len()) + " models, no changes against " + env)
		return nil
	}
	p := result.Plan
	planText(c.Renderer, PlanOutput{
		Environment:  env,
		PlanID:       p.Environment.PlanID,
		RequestID:    p.RequestID,
		DagID:        p.DagID(),
		Start:        p.Environment.StartAt,
		End:          p.Environment.EndAt,
		NewSnapshots: len(p.NewSnapshots),
		Changes:      result.Changes,
	})
	return nil
}
