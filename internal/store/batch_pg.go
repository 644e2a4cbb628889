package store

import (
	"context"
	"fmt"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// CommitBatch implements BatchCommitter: it writes a batch of raw events,
// their derived session deltas, and the advancing checkpoint inside a
// single transaction, so a crash between any of the three never leaves the
// checkpoint ahead of data it didn't actually commit (spec.md §4.I step 6-7,
// §4.J "Checkpoints are written under the same transaction as the batch
// commit").
func (p *PG) CommitBatch(ctx context.Context, events []model.RawEvent, deltas []model.SessionDelta, cp model.Checkpoint) ([]bool, error) {
	var inserted []bool
	err := p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		inserted = make([]bool, len(events))
		for i, ev := range events {
			ok, err := insertOneEventTx(ctx, exec, ev)
			if err != nil {
				return fmt.Errorf("commit batch: insert event %d/%d: %w", i+1, len(events), err)
			}
			inserted[i] = ok
		}

		for _, d := range deltas {
			if err := upsertSessionDeltaTx(ctx, exec, d); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
		}

		if _, err := exec.Exec(ctx, `
			INSERT INTO checkpoints (phase, source, source_offset, source_inode, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (phase, source) DO UPDATE SET
				source_offset = EXCLUDED.source_offset,
				source_inode = EXCLUDED.source_inode,
				updated_at = EXCLUDED.updated_at`,
			cp.Phase, cp.Source, cp.SourceOffset, cp.SourceInode, cp.UpdatedAt,
		); err != nil {
			return fmt.Errorf("commit batch: save checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}
