package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// ScanPage implements SweepRepo using cursor-based pagination (spec.md §4.M
// "WHERE id > last_id ORDER BY id LIMIT K").
func (p *PG) ScanPage(ctx context.Context, afterID int64, limit int) ([]RawEventRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, payload::text, payload
		FROM raw_events
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan raw_events page after %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []RawEventRow
	for rows.Next() {
		var r RawEventRow
		var payloadJSON []byte
		if err := rows.Scan(&r.ID, &r.PayloadText, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan raw_events row: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(payloadJSON, &m); err != nil {
			return nil, fmt.Errorf("unmarshal raw_events payload id=%d: %w", r.ID, err)
		}
		r.Payload = model.Payload(m)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateSanitizedPayload implements SweepRepo.
func (p *PG) UpdateSanitizedPayload(ctx context.Context, id int64, payload model.Payload, payloadHash string) error {
	payloadJSON, err := json.Marshal(map[string]any(payload))
	if err != nil {
		return fmt.Errorf("marshal sanitized payload id=%d: %w", id, err)
	}
	_, err = p.pool.Exec(ctx, `UPDATE raw_events SET payload = $2, payload_hash = $3 WHERE id = $1`, id, payloadJSON, payloadHash)
	if err != nil {
		return fmt.Errorf("update sanitized payload id=%d: %w", id, err)
	}
	return nil
}
