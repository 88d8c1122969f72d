package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/snapshot"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// GetSnapshot returns the snapshot stored under (name, identifier) with its
// recorded intervals.
func (s *Store) GetSnapshot(ctx context.Context, name, identifier string) (*core.Snapshot, error) {
	return getSnapshot(ctx, s.db, name, identifier)
}

// GetSnapshotIDs returns the address of every stored snapshot, ordered by
// name then identifier.
func (s *Store) GetSnapshotIDs(ctx context.Context) ([]core.SnapshotID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, identifier FROM snapshots
		ORDER BY name, identifier
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []core.SnapshotID
	for rows.Next() {
		var id core.SnapshotID
		if err := rows.Scan(&id.Name, &id.Identifier); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

// GetSnapshotIdentifiersForVersion returns the identifiers of every snapshot
// of name that shares version, oldest first.
func (s *Store) GetSnapshotIdentifiersForVersion(ctx context.Context, name, version string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier FROM snapshots
		WHERE name = ? AND version = ?
		ORDER BY created_ts, identifier
	`, name, version)
	if err != nil {
		return nil, fmt.Errorf("query version index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var identifiers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		identifiers = append(identifiers, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(identifiers) == 0 {
		return nil, fmt.Errorf("version %s of %s: %w", version, name, core.ErrNotFound)
	}
	return identifiers, nil
}

// ListSnapshots returns every stored snapshot of name, or of every model
// when name is empty, ordered by name then creation time.
func (s *Store) ListSnapshots(ctx context.Context, name string) ([]*core.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, identifier FROM snapshots
		WHERE ? = '' OR name = ?
		ORDER BY name, created_ts, identifier
	`, name, name)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	var ids []core.SnapshotID
	for rows.Next() {
		var id core.SnapshotID
		if err := rows.Scan(&id.Name, &id.Identifier); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	out := make([]*core.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := getSnapshot(ctx, s.db, id.Name, id.Identifier)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// AddInterval records [start, end) as processed for the snapshot.
func (s *Store) AddInterval(ctx context.Context, id core.SnapshotID, start, end int64, dev bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := getSnapshot(ctx, tx, id.Name, id.Identifier)
		if err != nil {
			return err
		}
		snapshot.AddInterval(snap, start, end, dev)
		return saveIntervals(ctx, tx, snap)
	})
}

// RemoveInterval clears [start, end) from the snapshot's intervals.
func (s *Store) RemoveInterval(ctx context.Context, id core.SnapshotID, start, end int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := getSnapshot(ctx, tx, id.Name, id.Identifier)
		if err != nil {
			return err
		}
		snapshot.RemoveInterval(snap, start, end)
		return saveIntervals(ctx, tx, snap)
	})
}

// DeleteExpired removes snapshots whose ttl has passed at now and that no
// environment references. It returns the removed addresses.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) ([]core.SnapshotID, error) {
	var removed []core.SnapshotID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		envs, err := listEnvironments(ctx, tx)
		if err != nil {
			return err
		}
		referenced := make(map[core.SnapshotID]bool)
		for _, env := range envs {
			for _, id := range env.SnapshotIDs() {
				referenced[id] = true
			}
		}

		rows, err := tx.QueryContext(ctx, `SELECT payload FROM snapshots ORDER BY name, identifier`)
		if err != nil {
			return fmt.Errorf("query snapshots: %w", err)
		}
		var candidates []core.SnapshotID
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan snapshot: %w", err)
			}
			var snap core.Snapshot
			if err := json.Unmarshal([]byte(payload), &snap); err != nil {
				_ = rows.Close()
				return fmt.Errorf("decode snapshot: %w", err)
			}
			if referenced[snap.ID()] {
				continue
			}
			expired, err := snapshot.Expired(&snap, now)
			if err != nil {
				s.logger.Warn("skipping snapshot with invalid ttl", "snapshot", snap.ID().String(), "error", err)
				continue
			}
			if expired {
				candidates = append(candidates, snap.ID())
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, id := range candidates {
			if _, err := tx.ExecContext(ctx, `DELETE FROM intervals WHERE name = ? AND identifier = ?`, id.Name, id.Identifier); err != nil {
				return fmt.Errorf("delete intervals of %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ? AND identifier = ?`, id.Name, id.Identifier); err != nil {
				return fmt.Errorf("delete snapshot %s: %w", id, err)
			}
		}
		removed = candidates
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.logger.Info("deleted expired snapshots", "count", len(removed))
	}
	return removed, nil
}

func getSnapshot(ctx context.Context, q querier, name, identifier string) (*core.Snapshot, error) {
	var payload string
	err := q.QueryRowContext(ctx, `
		SELECT payload FROM snapshots
		WHERE name = ? AND identifier = ?
	`, name, identifier).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s@%s: %w", name, identifier, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s@%s: %w", name, identifier, err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s@%s: %w", name, identifier, err)
	}
	if err := loadIntervals(ctx, q, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// putSnapshot stores snap unless a snapshot with its address already exists.
// It reports whether a row was inserted.
func putSnapshot(ctx context.Context, q querier, snap *core.Snapshot) (bool, error) {
	stored := *snap
	stored.Intervals, stored.DevIntervals = nil, nil
	payload, err := json.Marshal(stored)
	if err != nil {
		return false, fmt.Errorf("encode snapshot %s: %w", snap.ID(), err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO snapshots
		(name, identifier, version, payload, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.Name, snap.Identifier(), snap.Version, string(payload), snap.CreatedTS, snap.UpdatedTS)
	if err != nil {
		return false, fmt.Errorf("insert snapshot %s: %w", snap.ID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert snapshot %s: %w", snap.ID(), err)
	}
	if n == 0 {
		return false, nil
	}
	return true, saveIntervals(ctx, q, snap)
}

func snapshotExists(ctx context.Context, q querier, id core.SnapshotID) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM snapshots WHERE name = ? AND identifier = ?
	`, id.Name, id.Identifier).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup snapshot %s: %w", id, err)
	}
	return true, nil
}

func loadIntervals(ctx context.Context, q querier, snap *core.Snapshot) error {
	rows, err := q.QueryContext(ctx, `
		SELECT start_ts, end_ts, is_dev FROM intervals
		WHERE name = ? AND identifier = ?
		ORDER BY is_dev, start_ts
	`, snap.Name, snap.Identifier())
	if err != nil {
		return fmt.Errorf("query intervals of %s: %w", snap.ID(), err)
	}
	defer func() { _ = rows.Close() }()

	snap.Intervals, snap.DevIntervals = nil, nil
	for rows.Next() {
		var start, end int64
		var dev bool
		if err := rows.Scan(&start, &end, &dev); err != nil {
			return fmt.Errorf("scan interval: %w", err)
		}
		if dev {
			snap.DevIntervals = append(snap.DevIntervals, core.Interval{start, end})
		} else {
			snap.Intervals = append(snap.Intervals, core.Interval{start, end})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func saveIntervals(ctx context.Context, q querier, snap *core.Snapshot) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM intervals WHERE name = ? AND identifier = ?
	`, snap.Name, snap.Identifier()); err != nil {
		return fmt.Errorf("clear intervals of %s: %w", snap.ID(), err)
	}

	for _, set := range []struct {
		intervals []core.Interval
		dev       bool
	}{
		{snapshot.MergeIntervals(snap.Intervals), false},
		{snapshot.MergeIntervals(snap.DevIntervals), true},
	} {
		for _, i := range set.intervals {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO intervals (name, identifier, start_ts, end_ts, is_dev)
				VALUES (?, ?, ?, ?, ?)
			`, snap.Name, snap.Identifier(), i.Start(), i.End(), set.dev); err != nil {
				return fmt.Errorf("insert interval of %s: %w", snap.ID(), err)
			}
		}
	}
	return nil
}
