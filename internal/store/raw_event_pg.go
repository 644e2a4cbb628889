package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/cowrieproc/ingestcore/internal/model"
)

const insertRawEventSQL = `
INSERT INTO raw_events
	(ingest_id, ingest_at, source, source_offset, source_inode, payload,
	 payload_hash, session_id, event_type, event_timestamp, risk_score, quarantined)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (source, source_offset, payload_hash) DO NOTHING
RETURNING id`

// insertOneEventTx inserts a single event using the given executor (either
// the pool or a live transaction), returning false when the dedup-on-conflict
// path fired. Used by CommitBatch (explicit single transaction spanning raw
// events, session deltas, and the checkpoint write); InsertBatch queues the
// same insertRawEventSQL statement in a pgx.Batch instead of calling this.
func insertOneEventTx(ctx context.Context, exec pgxExecer, ev model.RawEvent) (bool, error) {
	payloadJSON, err := json.Marshal(map[string]any(ev.Payload))
	if err != nil {
		return false, fmt.Errorf("marshal payload for source %s offset %d: %w", ev.Source, ev.SourceOffset, err)
	}
	var sessionID any
	if ev.SessionID != "" {
		sessionID = ev.SessionID
	}
	var id int64
	err = exec.QueryRow(ctx, insertRawEventSQL,
		ev.IngestID, ev.IngestAt, ev.Source, ev.SourceOffset, ev.SourceInode,
		payloadJSON, ev.PayloadHash, sessionID, ev.EventType, ev.EventTimestamp,
		ev.RiskScore, ev.Quarantined,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert raw event for source %s offset %d: %w", ev.Source, ev.SourceOffset, err)
	}
	return true, nil
}

// InsertBatch implements RawEventRepo. It uses one statement per row inside
// a pgx.Batch so a single round trip inserts the whole batch (spec.md §4.I
// step 6 "Batched upsert"), reporting per-row whether the insert actually
// happened (false means the dedup-on-conflict path fired).
func (p *PG) InsertBatch(ctx context.Context, events []model.RawEvent) ([]bool, error) {
	if len(events) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		payloadJSON, err := json.Marshal(map[string]any(ev.Payload))
		if err != nil {
			return nil, fmt.Errorf("marshal payload for source %s offset %d: %w", ev.Source, ev.SourceOffset, err)
		}
		var sessionID any
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		batch.Queue(insertRawEventSQL,
			ev.IngestID, ev.IngestAt, ev.Source, ev.SourceOffset, ev.SourceInode,
			payloadJSON, ev.PayloadHash, sessionID, ev.EventType, ev.EventTimestamp,
			ev.RiskScore, ev.Quarantined,
		)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := make([]bool, len(events))
	for i := range events {
		var id int64
		err := br.QueryRow().Scan(&id)
		if err == pgx.ErrNoRows {
			inserted[i] = false
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert raw event %d/%d: %w", i+1, len(events), err)
		}
		inserted[i] = true
	}
	return inserted, nil
}

// CountBySource implements RawEventRepo.
func (p *PG) CountBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM raw_events WHERE source = $1`, source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count raw events for source %s: %w", source, err)
	}
	return count, nil
}
