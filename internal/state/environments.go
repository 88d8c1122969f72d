package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// GetEnvironment returns the environment stored under name.
func (s *Store) GetEnvironment(ctx context.Context, name string) (*core.Environment, error) {
	return getEnvironment(ctx, s.db, name)
}

// ListEnvironments returns every environment ordered by name.
func (s *Store) ListEnvironments(ctx context.Context) ([]*core.Environment, error) {
	return listEnvironments(ctx, s.db)
}

// DeleteEnvironment removes the environment. Its snapshots are kept until
// they expire.
func (s *Store) DeleteEnvironment(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM environments WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete environment %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete environment %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("environment %s: %w", name, core.ErrNotFound)
	}
	s.logger.Info("deleted environment", "environment", name)
	return nil
}

func getEnvironment(ctx context.Context, q querier, name string) (*core.Environment, error) {
	var payload string
	err := q.QueryRowContext(ctx, `
		SELECT payload FROM environments WHERE name = ?
	`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", name, err)
	}

	var env core.Environment
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("decode environment %s: %w", name, err)
	}
	return &env, nil
}

func listEnvironments(ctx context.Context, q querier) ([]*core.Environment, error) {
	rows, err := q.QueryContext(ctx, `SELECT payload FROM environments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query environments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var envs []*core.Environment
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		var env core.Environment
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, fmt.Errorf("decode environment: %w", err)
		}
		envs = append(envs, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return envs, nil
}

func putEnvironment(ctx context.Context, q querier, env *core.Environment) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode environment %s: %w", env.Name, err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO environments (name, plan_id, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			plan_id = excluded.plan_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, env.Name, env.PlanID, string(payload)); err != nil {
		return fmt.Errorf("store environment %s: %w", env.Name, err)
	}
	return nil
}
