package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is the Postgres-backed implementation of every repository interface in
// this package. Grounded on lake/api/config/postgres.go's pgxpool usage,
// adapted from a package-level global pool into an injected struct field
// per spec.md §9 "avoid singletons."
type PG struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPG wraps an already-connected pool. Callers are expected to have run
// the schema migrator (internal/migrate) before constructing repositories.
func NewPG(pool *pgxpool.Pool, log *slog.Logger) *PG {
	if log == nil {
		log = slog.Default()
	}
	return &PG{pool: pool, log: log}
}

// pgxExecer is the subset of pgx.Tx / pgxpool.Pool this package uses, so
// repo methods can run either inside a transaction or directly against the
// pool without duplicating SQL.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn inside a fresh transaction, committing on success and
// rolling back on any error or panic.
func (p *PG) withTx(ctx context.Context, fn func(ctx context.Context, exec pgxExecer) error) error {
	txx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer txx.Rollback(ctx) //nolint:errcheck // rollback after commit is a documented no-op

	if err := fn(ctx, txx); err != nil {
		return err
	}
	if err := txx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx adapts a live pgx.Tx to the store.Tx interface so callers (the bulk
// loader) can pass it across a repo boundary to compose a checkpoint write
// into the same transaction as a batch insert (spec.md §4.J).
type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}
