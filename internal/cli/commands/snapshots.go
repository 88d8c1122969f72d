package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// SnapshotsOptions holds options for the snapshots command.
type SnapshotsOptions struct {
	Version string
	Remote  bool
	Prune   bool
}

// snapshotIndex is implemented by both the local store and the scheduler client.
type snapshotIndex interface {
	GetSnapshotIDs(ctx context.Context) ([]core.SnapshotID, error)
	GetSnapshotIdentifiersForVersion(ctx context.Context, name, version string) ([]string, error)
}

// SnapshotRow is one snapshot in the snapshots output.
type SnapshotRow struct {
	Name       string          `json:"name"`
	Identifier string          `json:"identifier"`
	Version    string          `json:"version,omitempty"`
	TTL        string          `json:"ttl,omitempty"`
	Intervals  []core.Interval `json:"intervals,omitempty"`
}

// NewSnapshotsCommand creates the snapshots command.
func NewSnapshotsCommand() *cobra.Command {
	opts := &SnapshotsOptions{}

	cmd := &cobra.Command{
		Use:   "snapshots [model]",
		Short: "List snapshots",
		Long: `List the snapshots held by the local state store or the remote scheduler,
optionally restricted to one model.

With --version, list the identifiers of every snapshot of the model that
shares that version. With --prune, delete local snapshots whose ttl has
elapsed and that no environment references.`,
		Example: `  # List local snapshots
  leapmesh snapshots

  # Snapshots sharing a version on the remote scheduler
  leapmesh snapshots sushi.orders --version 1a2b3c4d --remote

  # Delete expired local snapshots
  leapmesh snapshots --prune`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var model string
			if len(args) > 0 {
				model = args[0]
			}
			return runSnapshots(cmd, model, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Version, "version", "", "List identifiers sharing this version (requires a model)")
	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "Read from the remote scheduler")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "Delete expired, unreferenced local snapshots")
	cmd.MarkFlagsMutuallyExclusive("remote", "prune")
	cmd.MarkFlagsMutuallyExclusive("version", "prune")
	return cmd
}

func runSnapshots(cmd *cobra.Command, model string, opts *SnapshotsOptions) error {
	ctx := cmd.Context()
	c, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if opts.Version != "" && model == "" {
		return errors.New("--version requires a model")
	}

	if opts.Remote || opts.Version != "" {
		backend, release, err := c.OpenBackend(ctx, opts.Remote)
		if err != nil {
			return err
		}
		defer release()
		index, ok := backend.(snapshotIndex)
		if !ok {
			return errors.New("backend cannot list snapshots")
		}

		if opts.Version != "" {
			identifiers, err := index.GetSnapshotIdentifiersForVersion(ctx, model, opts.Version)
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("no snapshots of %s with version %s", model, opts.Version)
			}
			if err != nil {
				return err
			}
			rows := make([]SnapshotRow, len(identifiers))
			for i, id := range identifiers {
				rows[i] = SnapshotRow{Name: model, Identifier: id, Version: opts.Version}
			}
			return renderSnapshots(c.Renderer, rows)
		}

		ids, err := index.GetSnapshotIDs(ctx)
		if err != nil {
			return err
		}
		rows := make([]SnapshotRow, 0, len(ids))
		for _, id := range ids {
			if model == "" || id.Name == model {
				rows = append(rows, SnapshotRow{Name: id.Name, Identifier: id.Identifier})
			}
		}
		return renderSnapshots(c.Renderer, rows)
	}

	store, err := c.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Prune {
		removed, err := store.DeleteExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		rows := make([]SnapshotRow, len(removed))
		for i, id := range removed {
			rows[i] = SnapshotRow{Name: id.Name, Identifier: id.Identifier}
		}
		if !c.Renderer.JSONMode() {
			c.Renderer.Success("Removed " + strconv.Itoa(len(rows)) + " expired snapshots")
		}
		return renderSnapshots(c.Renderer, rows)
	}

	snaps, err := store.ListSnapshots(ctx, model)
	if err != nil {
		return err
	}
	rows := make([]SnapshotRow, len(snaps))
	for i, s := range snaps {
		rows[i] = SnapshotRow{
			Name:       s.Name,
			Identifier: s.Identifier(),
			Version:    s.Version,
			TTL:        s.TTL,
			Intervals:  s.Intervals,
		}
	}
	return renderSnapshots(c.Renderer, rows)
}

func renderSnapshots(r *output.Renderer, rows []SnapshotRow) error {
	if r.JSONMode() {
		return r.JSON(rows)
	}
	table := make([][]string, len(rows))
	for i, row := range rows {
		table[i] = []string{row.Name, row.Identifier, row.Version, strconv.Itoa(len(row.Intervals)), row.TTL}
	}
	r.Table([]string{"Model", "Identifier", "Version", "Intervals", "TTL"}, table)
	return nil
}
