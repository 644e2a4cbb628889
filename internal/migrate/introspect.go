package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// tableExists checks information_schema rather than assuming a prior step
// succeeded (spec.md §4.K "must never assume previous steps fully
// succeeded").
func tableExists(ctx context.Context, tx pgx.Tx, table string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s existence: %w", table, err)
	}
	return exists, nil
}

// columnInfo is the subset of information_schema.columns this package
// checks before deciding whether a column needs adding or repairing.
type columnInfo struct {
	DataType string
	Nullable bool
}

func columnExists(ctx context.Context, tx pgx.Tx, table, column string) (bool, columnInfo, error) {
	var ci columnInfo
	var nullable string
	err := tx.QueryRow(ctx, `
		SELECT data_type, is_nullable FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
	`, table, column).Scan(&ci.DataType, &nullable)
	if err == pgx.ErrNoRows {
		return false, columnInfo{}, nil
	}
	if err != nil {
		return false, columnInfo{}, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	ci.Nullable = nullable == "YES"
	return true, ci, nil
}

func indexExists(ctx context.Context, tx pgx.Tx, index string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes WHERE schemaname = 'public' AND indexname = $1
		)`, index).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", index, err)
	}
	return exists, nil
}

// columnDataType returns the declared data type of column on table,
// used by the "validate FK type alignment" step (spec.md §4.K).
func columnDataType(ctx context.Context, tx pgx.Tx, table, column string) (string, error) {
	ok, ci, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("column %s.%s does not exist", table, column)
	}
	return ci.DataType, nil
}
