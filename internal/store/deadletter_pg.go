package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Insert implements DeadLetterRepo (spec.md §4.E).
func (p *PG) Insert(ctx context.Context, ev model.DeadLetterEvent) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO dead_letter_events (source, source_offset, reason, payload, retry_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		ev.Source, ev.SourceOffset, ev.Reason, ev.Payload, ev.RetryCount, ev.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert dead letter event for source %s offset %d: %w", ev.Source, ev.SourceOffset, err)
	}
	return id, nil
}

// CountByReason implements DeadLetterRepo.
func (p *PG) CountByReason(ctx context.Context) (map[model.DeadLetterReason]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT reason, count(*) FROM dead_letter_events GROUP BY reason`)
	if err != nil {
		return nil, fmt.Errorf("count dead letter events by reason: %w", err)
	}
	defer rows.Close()

	out := make(map[model.DeadLetterReason]int64)
	for rows.Next() {
		var reason model.DeadLetterReason
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("scan dead letter reason count: %w", err)
		}
		out[reason] = count
	}
	return out, rows.Err()
}

// ForRepair implements DeadLetterRepo, returning the oldest eligible rows
// first so a repair pass makes steady progress (spec.md §4.E).
func (p *PG) ForRepair(ctx context.Context, limit int) ([]model.DeadLetterEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source, source_offset, reason, payload, retry_count, created_at, last_retried_at
		FROM dead_letter_events
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letter events for repair: %w", err)
	}
	defer rows.Close()

	var out []model.DeadLetterEvent
	for rows.Next() {
		var ev model.DeadLetterEvent
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.SourceOffset, &ev.Reason, &ev.Payload,
			&ev.RetryCount, &ev.CreatedAt, &ev.LastRetriedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter event for repair: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// IncrementRetry implements DeadLetterRepo.
func (p *PG) IncrementRetry(ctx context.Context, id int64, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE dead_letter_events SET retry_count = retry_count + 1, last_retried_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("increment dead letter %d retry: %w", id, err)
	}
	return nil
}

// Promote implements DeadLetterRepo: removes the dead-letter row once its
// event has been successfully replayed into raw_events.
func (p *PG) Promote(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM dead_letter_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("promote dead letter %d: %w", id, err)
	}
	return nil
}
