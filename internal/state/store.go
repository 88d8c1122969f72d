// Package state persists snapshots, environments and applied plans in SQLite.
// Store is the local counterpart of the scheduler's state: the plan builder
// reads from it and the development scheduler serves it over HTTP.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// ErrInvalidPlan is matched by plans that reference snapshots the store does
// not hold.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrStalePlan is matched by plans built against an environment that has
// since been updated by another plan.
var ErrStalePlan = errors.New("stale plan")

// querier is the subset of *sql.DB and *sql.Tx the store reads through.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed state store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for an in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := ":memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection: in-memory databases are per connection and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := New(db, opts...)
	s.path = path
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("opened state store", "path", path)
	return s, nil
}

// New wraps an open database without running migrations.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
