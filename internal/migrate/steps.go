package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

func stepCreateSchemaState(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "schema_state")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE schema_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`)
	return err
}

func stepCreateRawEvents(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "raw_events")
	if err != nil {
		return err
	}
	if !exists {
		_, err = tx.Exec(ctx, `
			CREATE TABLE raw_events (
				id               BIGSERIAL PRIMARY KEY,
				ingest_id        TEXT NOT NULL,
				ingest_at        TIMESTAMPTZ NOT NULL,
				source           TEXT NOT NULL,
				source_offset    BIGINT NOT NULL,
				source_inode     TEXT NOT NULL DEFAULT '',
				payload          JSONB NOT NULL,
				payload_hash     TEXT NOT NULL,
				session_id       VARCHAR(64),
				event_type       TEXT NOT NULL,
				event_timestamp  TIMESTAMPTZ NOT NULL,
				risk_score       SMALLINT NOT NULL DEFAULT 0,
				quarantined      BOOLEAN NOT NULL DEFAULT FALSE
			)`)
		if err != nil {
			return fmt.Errorf("create raw_events: %w", err)
		}
	}

	unique, err := indexExists(ctx, tx, "uq_raw_events_source_offset_hash")
	if err != nil {
		return err
	}
	if !unique {
		if _, err := tx.Exec(ctx, `
			CREATE UNIQUE INDEX uq_raw_events_source_offset_hash
			ON raw_events (source, source_offset, payload_hash)`); err != nil {
			return fmt.Errorf("create raw_events unique index: %w", err)
		}
	}

	bySession, err := indexExists(ctx, tx, "idx_raw_events_session")
	if err != nil {
		return err
	}
	if !bySession {
		if _, err := tx.Exec(ctx, `CREATE INDEX idx_raw_events_session ON raw_events (session_id)`); err != nil {
			return fmt.Errorf("create raw_events session index: %w", err)
		}
	}
	return nil
}

func stepCreateSessionSummary(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "session_summary")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE session_summary (
			session_id          VARCHAR(64) PRIMARY KEY,
			first_event_at       TIMESTAMPTZ NOT NULL,
			last_event_at        TIMESTAMPTZ NOT NULL,
			event_count          BIGINT NOT NULL DEFAULT 0,
			command_count        BIGINT NOT NULL DEFAULT 0,
			login_attempts       BIGINT NOT NULL DEFAULT 0,
			file_downloads       BIGINT NOT NULL DEFAULT 0,
			ssh_key_injections   BIGINT NOT NULL DEFAULT 0,
			unique_ssh_keys      BIGINT NOT NULL DEFAULT 0,
			vt_flagged           BOOLEAN NOT NULL DEFAULT FALSE,
			dshield_flagged      BOOLEAN NOT NULL DEFAULT FALSE,
			risk_score           SMALLINT NOT NULL DEFAULT 0,
			matcher              TEXT NOT NULL DEFAULT '',
			source_files         TEXT[] NOT NULL DEFAULT '{}',
			enrichment           JSONB NOT NULL DEFAULT '{}',
			source_ip            VARCHAR(45) NOT NULL DEFAULT '',
			canonical_src_ip_ts  TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("create session_summary: %w", err)
	}
	return nil
}

func stepCreateASNInventory(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "asn_inventory")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE asn_inventory (
			asn_number    BIGINT PRIMARY KEY,
			asn_org       TEXT NOT NULL DEFAULT '',
			country_hint  VARCHAR(2) NOT NULL DEFAULT '',
			first_seen    TIMESTAMPTZ NOT NULL,
			last_seen     TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create asn_inventory: %w", err)
	}
	return nil
}

func stepCreateIPInventory(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "ip_inventory")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// asn_number here matches asn_inventory.asn_number's declared type
	// (BIGINT) exactly, per spec.md §4.K "FK columns MUST match the
	// referenced column's type exactly."
	_, err = tx.Exec(ctx, `
		CREATE TABLE ip_inventory (
			ip_address     VARCHAR(45) PRIMARY KEY,
			country_code   VARCHAR(2) NOT NULL DEFAULT '',
			asn_number     BIGINT,
			asn_org        TEXT NOT NULL DEFAULT '',
			ip_type        TEXT NOT NULL DEFAULT 'unknown',
			first_seen     TIMESTAMPTZ NOT NULL,
			last_seen      TIMESTAMPTZ NOT NULL,
			enrichment_ts  TIMESTAMPTZ NOT NULL,
			source         TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("create ip_inventory: %w", err)
	}
	return nil
}

func stepAddIPInventoryASNFK(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	ipType, err := columnDataType(ctx, tx, "ip_inventory", "asn_number")
	if err != nil {
		return err
	}
	asnType, err := columnDataType(ctx, tx, "asn_inventory", "asn_number")
	if err != nil {
		return err
	}
	if ipType != asnType {
		// Partial/dirty state: a prior attempt created a mismatched column
		// type (spec.md §4.K "Foreign-keyed columns MUST match the
		// referenced column's declared type exactly"). Safe to repair via
		// drop-and-recreate because the column carries no data yet this
		// early in the migration chain; later versions must not hit this
		// path (documented recovery: rerun migrate after manually exporting
		// ip_inventory.asn_number if this ever fires against live data).
		log.Warn("migrate: repairing ip_inventory.asn_number type mismatch", "had", ipType, "want", asnType)
		if _, err := tx.Exec(ctx, `ALTER TABLE ip_inventory DROP COLUMN asn_number`); err != nil {
			return fmt.Errorf("drop mismatched asn_number column: %w", err)
		}
		if _, err := tx.Exec(ctx, `ALTER TABLE ip_inventory ADD COLUMN asn_number BIGINT`); err != nil {
			return fmt.Errorf("recreate asn_number column: %w", err)
		}
	}

	exists, err := tableExists(ctx, tx, "ip_inventory")
	if err != nil || !exists {
		return err
	}
	var fkExists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.table_constraints
			WHERE constraint_name = 'fk_ip_inventory_asn' AND table_name = 'ip_inventory'
		)`).Scan(&fkExists)
	if err != nil {
		return fmt.Errorf("check fk_ip_inventory_asn existence: %w", err)
	}
	if !fkExists {
		if _, err := tx.Exec(ctx, `
			ALTER TABLE ip_inventory
			ADD CONSTRAINT fk_ip_inventory_asn FOREIGN KEY (asn_number)
			REFERENCES asn_inventory (asn_number)`); err != nil {
			return fmt.Errorf("add fk_ip_inventory_asn: %w", err)
		}
	}
	return nil
}

func stepCreateSSHKeys(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "ssh_key_intelligence")
	if err != nil {
		return err
	}
	if !exists {
		_, err = tx.Exec(ctx, `
			CREATE TABLE ssh_key_intelligence (
				id               BIGSERIAL PRIMARY KEY,
				key_type         TEXT NOT NULL,
				key_data         TEXT NOT NULL,
				key_fingerprint  VARCHAR(64) NOT NULL,
				key_hash         VARCHAR(64) NOT NULL,
				key_comment      TEXT NOT NULL DEFAULT '',
				first_seen       TIMESTAMPTZ NOT NULL,
				last_seen        TIMESTAMPTZ NOT NULL,
				total_attempts   BIGINT NOT NULL DEFAULT 0,
				unique_sources   BIGINT NOT NULL DEFAULT 0,
				unique_sessions  BIGINT NOT NULL DEFAULT 0,
				key_bits         INT NOT NULL DEFAULT 0
			)`)
		if err != nil {
			return fmt.Errorf("create ssh_key_intelligence: %w", err)
		}
	}
	unique, err := indexExists(ctx, tx, "uq_ssh_key_fingerprint")
	if err != nil {
		return err
	}
	if !unique {
		if _, err := tx.Exec(ctx, `
			CREATE UNIQUE INDEX uq_ssh_key_fingerprint ON ssh_key_intelligence (key_fingerprint)`); err != nil {
			return fmt.Errorf("create ssh key fingerprint index: %w", err)
		}
	}

	junctionExists, err := tableExists(ctx, tx, "ssh_key_sessions")
	if err != nil {
		return err
	}
	if !junctionExists {
		if _, err := tx.Exec(ctx, `
			CREATE TABLE ssh_key_sessions (
				key_fingerprint VARCHAR(64) NOT NULL REFERENCES ssh_key_intelligence (key_fingerprint),
				session_id      VARCHAR(64) NOT NULL,
				source_ip       VARCHAR(45) NOT NULL DEFAULT '',
				seen_at         TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (key_fingerprint, session_id)
			)`); err != nil {
			return fmt.Errorf("create ssh_key_sessions: %w", err)
		}
	}
	return nil
}

func stepCreatePasswords(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "password_tracking")
	if err != nil {
		return err
	}
	if !exists {
		_, err = tx.Exec(ctx, `
			CREATE TABLE password_tracking (
				password_hash        VARCHAR(64) PRIMARY KEY,
				password_text        TEXT,
				first_seen           TIMESTAMPTZ NOT NULL,
				last_seen            TIMESTAMPTZ NOT NULL,
				times_seen           BIGINT NOT NULL DEFAULT 0,
				unique_sessions      BIGINT NOT NULL DEFAULT 0,
				breached             BOOLEAN,
				breach_prevalence    INT,
				last_breach_check_at TIMESTAMPTZ
			)`)
		if err != nil {
			return fmt.Errorf("create password_tracking: %w", err)
		}
	}

	junctionExists, err := tableExists(ctx, tx, "password_sessions")
	if err != nil {
		return err
	}
	if !junctionExists {
		if _, err := tx.Exec(ctx, `
			CREATE TABLE password_sessions (
				password_hash VARCHAR(64) NOT NULL REFERENCES password_tracking (password_hash),
				session_id    VARCHAR(64) NOT NULL,
				username      TEXT NOT NULL DEFAULT '',
				seen_at       TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (password_hash, session_id)
			)`); err != nil {
			return fmt.Errorf("create password_sessions: %w", err)
		}
	}
	return nil
}

func stepCreateFiles(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "file_artifacts")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE file_artifacts (
			sha256        VARCHAR(64) PRIMARY KEY,
			first_seen    TIMESTAMPTZ NOT NULL,
			last_seen     TIMESTAMPTZ NOT NULL,
			size          BIGINT NOT NULL DEFAULT 0,
			url_samples   TEXT[] NOT NULL DEFAULT '{}',
			vt_analysis   JSONB,
			vt_flagged    BOOLEAN NOT NULL DEFAULT FALSE
		)`)
	if err != nil {
		return fmt.Errorf("create file_artifacts: %w", err)
	}
	return nil
}

func stepCreateDeadLetterEvents(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "dead_letter_events")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE dead_letter_events (
			id              BIGSERIAL PRIMARY KEY,
			source          TEXT NOT NULL,
			source_offset   BIGINT NOT NULL,
			reason          TEXT NOT NULL,
			payload         TEXT NOT NULL,
			retry_count     INT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			last_retried_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("create dead_letter_events: %w", err)
	}
	return nil
}

func stepCreateCheckpoints(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "checkpoints")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE checkpoints (
			phase          TEXT NOT NULL,
			source         TEXT NOT NULL,
			source_offset  BIGINT NOT NULL,
			source_inode   TEXT NOT NULL DEFAULT '',
			updated_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (phase, source)
		)`)
	if err != nil {
		return fmt.Errorf("create checkpoints: %w", err)
	}
	return nil
}

func stepCreateEnrichmentCache(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, err := tableExists(ctx, tx, "enrichment_cache")
	if err != nil {
		return err
	}
	if !exists {
		_, err = tx.Exec(ctx, `
			CREATE TABLE enrichment_cache (
				id              BIGSERIAL PRIMARY KEY,
				service         TEXT NOT NULL,
				cache_key       TEXT NOT NULL,
				cache_key_hash  VARCHAR(64) NOT NULL,
				payload         JSONB NOT NULL,
				response_status TEXT NOT NULL,
				created_at      TIMESTAMPTZ NOT NULL,
				accessed_at     TIMESTAMPTZ NOT NULL,
				expires_at      TIMESTAMPTZ NOT NULL,
				api_latency_ms  BIGINT NOT NULL DEFAULT 0,
				hit_count       BIGINT NOT NULL DEFAULT 0
			)`)
		if err != nil {
			return fmt.Errorf("create enrichment_cache: %w", err)
		}
	}
	unique, err := indexExists(ctx, tx, "uq_enrichment_cache_service_key")
	if err != nil {
		return err
	}
	if !unique {
		if _, err := tx.Exec(ctx, `
			CREATE UNIQUE INDEX uq_enrichment_cache_service_key
			ON enrichment_cache (service, cache_key_hash)`); err != nil {
			return fmt.Errorf("create enrichment_cache unique index: %w", err)
		}
	}
	return nil
}

// stepAddSnapshotColumns adds the point-in-time snapshot columns to
// session_summary. Per spec.md §9 Open Question resolution, these are
// regular (not generated) columns, populated only by the Snapshot Builder.
func stepAddSnapshotColumns(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	cols := []struct{ name, ddl string }{
		{"snapshot_asn", "BIGINT"},
		{"snapshot_country", "VARCHAR(2)"},
		{"snapshot_ip_type", "TEXT"},
		{"enrichment_at", "TIMESTAMPTZ"},
	}
	for _, c := range cols {
		exists, _, err := columnExists(ctx, tx, "session_summary", c.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE session_summary ADD COLUMN %s %s`, c.name, c.ddl)); err != nil {
			return fmt.Errorf("add session_summary.%s: %w", c.name, err)
		}
	}
	return nil
}

// stepAddIPInventoryProvenance adds the per-field provenance column used by
// the enrichment cascade to track which source set each field and when
// (spec.md §4.H "Timestamps are per-source"; this column is an addition
// beyond the literal §3 list, documented in SPEC_FULL.md).
func stepAddIPInventoryProvenance(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	exists, _, err := columnExists(ctx, tx, "ip_inventory", "provenance")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `ALTER TABLE ip_inventory ADD COLUMN provenance JSONB NOT NULL DEFAULT '{}'`)
	if err != nil {
		return fmt.Errorf("add ip_inventory.provenance: %w", err)
	}
	return nil
}

// stepValidateFKTypeAlignment is the dedicated check spec.md §4.K requires:
// "The migrator includes a 'validate FK type alignment' step." It fails
// loudly (actionable message) rather than silently continuing if any known
// FK pair has drifted.
func stepValidateFKTypeAlignment(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	pairs := [][4]string{
		{"ip_inventory", "asn_number", "asn_inventory", "asn_number"},
		{"ssh_key_sessions", "key_fingerprint", "ssh_key_intelligence", "key_fingerprint"},
		{"password_sessions", "password_hash", "password_tracking", "password_hash"},
	}
	for _, pair := range pairs {
		childTable, childCol, parentTable, parentCol := pair[0], pair[1], pair[2], pair[3]
		childType, err := columnDataType(ctx, tx, childTable, childCol)
		if err != nil {
			return err
		}
		parentType, err := columnDataType(ctx, tx, parentTable, parentCol)
		if err != nil {
			return err
		}
		if childType != parentType {
			return fmt.Errorf(
				"FK type mismatch: %s.%s is %s but %s.%s is %s — recovery: run `ALTER TABLE %s ALTER COLUMN %s TYPE %s` after verifying no data loss, then re-run migrate",
				childTable, childCol, childType, parentTable, parentCol, parentType,
				childTable, childCol, parentType,
			)
		}
	}
	return nil
}

// stepBackfillSnapshot performs an idempotent, batched backfill of
// session_summary snapshot columns from ip_inventory for rows ingested
// before the Snapshot Builder existed (spec.md §4.K "Data backfill steps...
// batch updates (1,000 rows) and commit per batch"). This step itself
// commits once (the whole migration step runs in one tx per the Migrator's
// per-step transaction), but internally chunks the UPDATE via a subquery
// LIMIT so a single statement never rewrites the whole table at once.
func stepBackfillSnapshot(ctx context.Context, tx pgx.Tx, log *slog.Logger) error {
	const batchSize = 1000
	for {
		tag, err := tx.Exec(ctx, `
			UPDATE session_summary s
			SET snapshot_asn = i.asn_number,
				snapshot_country = NULLIF(i.country_code, ''),
				snapshot_ip_type = i.ip_type,
				enrichment_at = i.enrichment_ts
			FROM ip_inventory i
			WHERE s.source_ip = i.ip_address
			  AND s.source_ip <> ''
			  AND s.snapshot_asn IS NULL
			  AND s.snapshot_country IS NULL
			  AND s.snapshot_ip_type IS NULL
			  AND s.session_id IN (
				SELECT session_id FROM session_summary
				WHERE source_ip <> '' AND snapshot_asn IS NULL
				LIMIT $1
			  )`, batchSize)
		if err != nil {
			return fmt.Errorf("backfill snapshot batch: %w", err)
		}
		if tag.RowsAffected() < batchSize {
			break
		}
	}
	return nil
}
