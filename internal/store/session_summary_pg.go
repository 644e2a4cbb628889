package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// UpsertDeltas implements SessionSummaryRepo. Each delta is applied with an
// INSERT ... ON CONFLICT DO UPDATE whose SET clause is additive for counters
// and MIN/MAX-bounded for timestamps, matching model.SessionSummary.Merge's
// in-process semantics so concurrent bulk-loader workers converge on the
// same result regardless of delta arrival order (spec.md §4.I, §5).
func (p *PG) UpsertDeltas(ctx context.Context, deltas []model.SessionDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	return p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		for _, d := range deltas {
			if err := upsertSessionDeltaTx(ctx, exec, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertSessionDeltaTx applies one delta using the given executor. Shared by
// UpsertDeltas and CommitBatch (internal/store/batch_pg.go), which composes
// it into the same transaction as the raw event insert and checkpoint save.
func upsertSessionDeltaTx(ctx context.Context, exec pgxExecer, d model.SessionDelta) error {
	var srcIP any
	if d.CanonicalSrcIP != "" {
		srcIP = d.CanonicalSrcIP
	}
	var srcFiles []string
	if d.SourceFile != "" {
		srcFiles = []string{d.SourceFile}
	}
	_, err := exec.Exec(ctx, `
		INSERT INTO session_summary
			(session_id, first_event_at, last_event_at, event_count, command_count,
			 login_attempts, file_downloads, ssh_key_injections, risk_score,
			 source_files, source_ip, canonical_src_ip_ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,COALESCE($11,''),$12)
		ON CONFLICT (session_id) DO UPDATE SET
			first_event_at = LEAST(session_summary.first_event_at, EXCLUDED.first_event_at),
			last_event_at = GREATEST(session_summary.last_event_at, EXCLUDED.last_event_at),
			event_count = session_summary.event_count + EXCLUDED.event_count,
			command_count = session_summary.command_count + EXCLUDED.command_count,
			login_attempts = session_summary.login_attempts + EXCLUDED.login_attempts,
			file_downloads = session_summary.file_downloads + EXCLUDED.file_downloads,
			ssh_key_injections = session_summary.ssh_key_injections + EXCLUDED.ssh_key_injections,
			risk_score = GREATEST(session_summary.risk_score, EXCLUDED.risk_score),
			source_files = (
				SELECT array_agg(DISTINCT f) FROM unnest(
					session_summary.source_files || EXCLUDED.source_files
				) AS f
			),
			source_ip = CASE
				WHEN session_summary.source_ip = '' AND EXCLUDED.source_ip <> '' THEN EXCLUDED.source_ip
				WHEN EXCLUDED.source_ip <> '' AND EXCLUDED.canonical_src_ip_ts < session_summary.canonical_src_ip_ts
					THEN EXCLUDED.source_ip
				ELSE session_summary.source_ip
			END,
			canonical_src_ip_ts = LEAST(
				COALESCE(session_summary.canonical_src_ip_ts, EXCLUDED.canonical_src_ip_ts),
				COALESCE(EXCLUDED.canonical_src_ip_ts, session_summary.canonical_src_ip_ts)
			)`,
		d.SessionID, d.FirstEventAt, d.LastEventAt, d.EventCount, d.CommandCount,
		d.LoginAttempts, d.FileDownloads, d.SSHKeyInjections, d.RiskScore,
		srcFiles, srcIP, d.CanonicalSrcTS,
	)
	if err != nil {
		return fmt.Errorf("upsert session delta %s: %w", d.SessionID, err)
	}
	return nil
}

// Get implements SessionSummaryRepo.
func (p *PG) Get(ctx context.Context, sessionID string) (*model.SessionSummary, error) {
	var s model.SessionSummary
	var enrichmentJSON []byte
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, first_event_at, last_event_at, event_count, command_count,
			login_attempts, file_downloads, ssh_key_injections, unique_ssh_keys,
			vt_flagged, dshield_flagged, risk_score, matcher, source_files, enrichment,
			source_ip, snapshot_asn, snapshot_country, snapshot_ip_type, enrichment_at
		FROM session_summary WHERE session_id = $1`, sessionID).Scan(
		&s.SessionID, &s.FirstEventAt, &s.LastEventAt, &s.EventCount, &s.CommandCount,
		&s.LoginAttempts, &s.FileDownloads, &s.SSHKeyInjections, &s.UniqueSSHKeys,
		&s.VTFlagged, &s.DshieldFlagged, &s.RiskScore, &s.Matcher, &s.SourceFiles, &enrichmentJSON,
		&s.SourceIP, &s.SnapshotASN, &s.SnapshotCountry, &s.SnapshotIPType, &s.EnrichmentAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session summary %s: %w", sessionID, err)
	}
	if len(enrichmentJSON) > 0 {
		if err := json.Unmarshal(enrichmentJSON, &s.Enrichment); err != nil {
			return nil, fmt.Errorf("unmarshal session %s enrichment: %w", sessionID, err)
		}
	}
	return &s, nil
}

// SealSnapshot implements SessionSummaryRepo using WHERE snapshot_asn IS
// NULL so a retried or concurrently-run Snapshot Builder pass never
// overwrites an already-sealed row (spec.md §4.L step 3).
func (p *PG) SealSnapshot(ctx context.Context, sessionID string, asn *int64, country, ipType *string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE session_summary
		SET snapshot_asn = $2, snapshot_country = $3, snapshot_ip_type = $4, enrichment_at = $5
		WHERE session_id = $1 AND snapshot_asn IS NULL AND snapshot_country IS NULL AND snapshot_ip_type IS NULL`,
		sessionID, asn, country, ipType, at)
	if err != nil {
		return fmt.Errorf("seal snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

// SessionsMissingSnapshot implements SessionSummaryRepo.
func (p *PG) SessionsMissingSnapshot(ctx context.Context, limit int) ([]SessionSnapshotTarget, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, source_ip FROM session_summary
		WHERE source_ip <> '' AND snapshot_asn IS NULL
		ORDER BY session_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions missing snapshot: %w", err)
	}
	defer rows.Close()

	var out []SessionSnapshotTarget
	for rows.Next() {
		var t SessionSnapshotTarget
		if err := rows.Scan(&t.SessionID, &t.SourceIP); err != nil {
			return nil, fmt.Errorf("scan session snapshot target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
