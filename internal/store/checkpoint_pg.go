package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Get implements CheckpointRepo.
func (p *PG) Get(ctx context.Context, phase, source string) (model.Checkpoint, bool, error) {
	var cp model.Checkpoint
	err := p.pool.QueryRow(ctx, `
		SELECT phase, source, source_offset, source_inode, updated_at
		FROM checkpoints WHERE phase = $1 AND source = $2`, phase, source).Scan(
		&cp.Phase, &cp.Source, &cp.SourceOffset, &cp.SourceInode, &cp.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Checkpoint{}, false, nil
	}
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("get checkpoint %s/%s: %w", phase, source, err)
	}
	return cp, true, nil
}

// Save implements CheckpointRepo. It writes through the caller-supplied tx
// so it composes into the same transaction as a batch insert (spec.md §4.J
// "Checkpoints are written under the same transaction as the batch
// commit").
func (p *PG) Save(ctx context.Context, tx Tx, cp model.Checkpoint) error {
	err := tx.Exec(ctx, `
		INSERT INTO checkpoints (phase, source, source_offset, source_inode, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (phase, source) DO UPDATE SET
			source_offset = EXCLUDED.source_offset,
			source_inode = EXCLUDED.source_inode,
			updated_at = EXCLUDED.updated_at`,
		cp.Phase, cp.Source, cp.SourceOffset, cp.SourceInode, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", cp.Phase, cp.Source, err)
	}
	return nil
}

// WithTx exposes PG.withTx to callers that need to compose a batch insert
// and a checkpoint save into one transaction (spec.md §4.J, §4.I step 6-7).
func (p *PG) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		txAdapter, ok := exec.(pgx.Tx)
		if !ok {
			return fmt.Errorf("withTx: executor is not a pgx.Tx")
		}
		return fn(ctx, pgTx{tx: txAdapter})
	})
}
