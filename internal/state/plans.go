package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/snapshot"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// SubmitPlan applies p: it stores the new snapshots, binds the environment
// and records a finished run under p.DagID(). Nothing is executed, so the
// plan window is marked processed for every materialized snapshot unless
// the plan skips backfill. Restated models lose their intervals over the
// window first.
//
// Application is transactional. A request id that was already applied is
// a no-op.
func (s *Store) SubmitPlan(ctx context.Context, p *core.Plan) error {
	if p.Environment == nil {
		return fmt.Errorf("%w: missing environment", ErrInvalidPlan)
	}
	if p.RequestID == "" {
		return fmt.Errorf("%w: missing request id", ErrInvalidPlan)
	}
	env := p.Environment
	start, end, err := planWindow(env)
	if err != nil {
		return err
	}

	applied := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE request_id = ?`, p.RequestID).Scan(&one)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup plan %s: %w", p.RequestID, err)
		}

		stored, err := getEnvironment(ctx, tx, env.Name)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return err
		case env.PreviousPlanID == nil || *env.PreviousPlanID != stored.PlanID:
			return fmt.Errorf("%w: environment %s was updated by plan %s", ErrStalePlan, env.Name, stored.PlanID)
		}

		for _, snap := range p.NewSnapshots {
			if _, err := putSnapshot(ctx, tx, snap); err != nil {
				return err
			}
		}
		for _, info := range env.Snapshots {
			ok, err := snapshotExists(ctx, tx, info.ID())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: environment %s references unknown snapshot %s", ErrInvalidPlan, env.Name, info.ID())
			}
		}

		for _, info := range env.Snapshots {
			restated := slices.Contains(p.Restatements, info.Name)
			if (p.SkipBackfill || !info.IsMaterialized) && !restated {
				continue
			}
			snap, err := getSnapshot(ctx, tx, info.Name, info.Identifier())
			if err != nil {
				return err
			}
			if restated {
				snapshot.RemoveInterval(snap, start, end)
			}
			if !p.SkipBackfill && info.IsMaterialized {
				snapshot.AddInterval(snap, start, end, p.IsDev)
			}
			if err := saveIntervals(ctx, tx, snap); err != nil {
				return err
			}
		}

		if err := putEnvironment(ctx, tx, env); err != nil {
			return err
		}

		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode plan %s: %w", p.RequestID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (request_id, plan_id, environment, payload)
			VALUES (?, ?, ?, ?)
		`, p.RequestID, env.PlanID, env.Name, string(payload)); err != nil {
			return fmt.Errorf("insert plan %s: %w", p.RequestID, err)
		}
		if err := putDagRun(ctx, tx, p.DagID(), env.PlanID, core.DagRunSuccess); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		s.logger.Info("applied plan",
			"request_id", p.RequestID,
			"environment", env.Name,
			"plan_id", env.PlanID,
			"new_snapshots", len(p.NewSnapshots))
	} else {
		s.logger.Debug("plan already applied", "request_id", p.RequestID)
	}
	return nil
}

// GetPlan returns the plan applied under requestID.
func (s *Store) GetPlan(ctx context.Context, requestID string) (*core.Plan, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM plans WHERE request_id = ?`, requestID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", requestID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", requestID, err)
	}
	var p core.Plan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", requestID, err)
	}
	return &p, nil
}

// GetDagRunState returns the state of run runID in run group dagID.
func (s *Store) GetDagRunState(ctx context.Context, dagID, runID string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM dag_runs WHERE dag_id = ? AND run_id = ?
	`, dagID, runID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("dag run %s/%s: %w", dagID, runID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get dag run %s/%s: %w", dagID, runID, err)
	}
	return state, nil
}

// SetDagRunState records the state of a run, creating it if needed.
func (s *Store) SetDagRunState(ctx context.Context, dagID, runID, state string) error {
	return putDagRun(ctx, s.db, dagID, runID, state)
}

func putDagRun(ctx context.Context, q querier, dagID, runID, state string) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO dag_runs (dag_id, run_id, state)
		VALUES (?, ?, ?)
		ON CONFLICT (dag_id, run_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP
	`, dagID, runID, state); err != nil {
		return fmt.Errorf("store dag run %s/%s: %w", dagID, runID, err)
	}
	return nil
}

// planWindow converts the environment's inclusive date range to epoch
// milliseconds [start, end).
func planWindow(env *core.Environment) (int64, int64, error) {
	start, err := time.Parse(time.DateOnly, env.StartAt)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start %q: %w", ErrInvalidPlan, env.StartAt, err)
	}
	end, err := time.Parse(time.DateOnly, env.EndAt)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end %q: %w", ErrInvalidPlan, env.EndAt, err)
	}
	if end.Before(start) {
		return 0, 0, fmt.Errorf("%w: end %s is before start %s", ErrInvalidPlan, env.EndAt, env.StartAt)
	}
	return start.UnixMilli(), end.AddDate(0, 0, 1).UnixMilli(), nil
}
