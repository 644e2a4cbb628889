package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Get implements SchemaStateRepo. Component code outside the migrator uses
// this only to read the current version for a health check (spec.md §6
// check-health); it never writes outside internal/migrate.
func (p *PG) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM schema_state WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get schema_state %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements SchemaStateRepo, writing through a caller-supplied tx so
// the migrator can compose it with a step's own DDL.
func (p *PG) Set(ctx context.Context, tx Tx, key, value string) error {
	err := tx.Exec(ctx, `
		INSERT INTO schema_state (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set schema_state %s: %w", key, err)
	}
	return nil
}
