// Package store is the relational persistence layer for accounts, the
// credit ledger, agent runs, webhook idempotency marks, and trial history.
// It replaces the ENT-generated client the teacher used for its trading
// domain with plain database/sql and lib/pq, since credit mutations here go
// through Postgres stored procedures rather than generated query builders.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store wraps a *sql.DB with the query-log hook the teacher wired into ENT's
// client, now pointed at a plain SQL connection.
type Store struct {
	db      *sql.DB
	queryLog func(...any)
}

// Option configures a Store.
type Option func(*Store)

// WithQueryLog attaches a query-log func, e.g. logger.SQLAdapter(zapLogger).
func WithQueryLog(fn func(...any)) Option {
	return func(s *Store) { s.queryLog = fn }
}

// Open opens a Postgres connection pool and wraps it in a Store.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing *sql.DB. Exported separately from Open so tests can
// pass in a sqlmock-backed *sql.DB.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) log(args ...any) {
	if s.queryLog != nil {
		s.queryLog(args...)
	}
}

// DB exposes the underlying connection pool for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// querier is satisfied by both *sql.DB and *sql.Tx, letting repository
// methods run unchanged inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WithTx runs fn inside a transaction, following the teacher's commit/rollback/
// panic-recovery shape but against database/sql instead of an ENT client.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// ErrNotFound is returned when a single-row query matches no rows.
var ErrNotFound = sql.ErrNoRows

// ErrAlreadyTerminal is returned by FinishRun when the run has already
// transitioned to a terminal status, refusing a second transition.
var ErrAlreadyTerminal = fmt.Errorf("store: run already terminal")
