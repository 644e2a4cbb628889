// Package store defines repository interfaces per entity (spec.md §9
// "expose a repository interface per entity; keep SQL generation... behind
// it; never let other components see raw SQL except the migrator") and a
// single Postgres-backed implementation using pgx directly rather than an
// ORM, grounded on the teacher's hand-rolled-SQL-behind-a-Store-struct
// idiom (lake/pkg/indexer/geoip/store.go, lake/pkg/indexer/dz/serviceability/store.go).
package store

import (
	"context"
	"time"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// RawEventRepo persists the append-only raw event log (spec.md §3 RawEvent).
type RawEventRepo interface {
	// InsertBatch upserts events, ignoring duplicates on
	// (source, source_offset, payload_hash) (spec.md §4.I step 6). It
	// reports, per input event in input order, whether a row was actually
	// inserted (for idempotency assertions).
	InsertBatch(ctx context.Context, events []model.RawEvent) (inserted []bool, err error)
	CountBySource(ctx context.Context, source string) (int64, error)
}

// SessionSummaryRepo persists per-session aggregates (spec.md §3
// SessionSummary).
type SessionSummaryRepo interface {
	// UpsertDeltas applies a batch of additive deltas transactionally,
	// following the COALESCE-for-snapshot-columns / additive-counters rule
	// from spec.md §4.I.
	UpsertDeltas(ctx context.Context, deltas []model.SessionDelta) error
	Get(ctx context.Context, sessionID string) (*model.SessionSummary, error)
	// SealSnapshot writes the snapshot columns for a session using
	// `UPDATE ... WHERE snapshot_column IS NULL` semantics (spec.md §4.L
	// step 3), so repeated calls are no-ops once sealed.
	SealSnapshot(ctx context.Context, sessionID string, asn *int64, country, ipType *string, at time.Time) error
	// SessionsMissingSnapshot returns up to limit session ids whose
	// source_ip is set but snapshot columns are still null (spec.md §4.L).
	SessionsMissingSnapshot(ctx context.Context, limit int) ([]SessionSnapshotTarget, error)
}

// BatchCommitter composes a raw-event insert, its derived session deltas,
// and the advancing checkpoint into a single transaction (spec.md §4.I step
// 6-7, §4.J). The bulk/delta loaders use this instead of calling
// RawEventRepo/SessionSummaryRepo/CheckpointRepo separately so a crash
// between steps can never leave the checkpoint ahead of uncommitted data.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, events []model.RawEvent, deltas []model.SessionDelta, cp model.Checkpoint) (inserted []bool, err error)
}

// SessionSnapshotTarget is one row the Snapshot Builder needs to fill in.
type SessionSnapshotTarget struct {
	SessionID string
	SourceIP  string
}

// IPInventoryRepo persists current best-known enrichment per IP (spec.md §3
// IPInventory).
type IPInventoryRepo interface {
	Get(ctx context.Context, ip string) (*model.IPInventory, error)
	// UpsertLocked runs fn with a row-level lock held on the IP's row (or a
	// freshly inserted placeholder), so the enrichment cascade's merge step
	// is serialized per IP (spec.md §5 "serialized per ip_address... using
	// row-level locks").
	UpsertLocked(ctx context.Context, ip string, fn func(current *model.IPInventory) (*model.IPInventory, error)) error
	BatchGet(ctx context.Context, ips []string) (map[string]model.IPInventory, error)
	// ListForRefresh enumerates IPs the staleness sweeper should reconsider
	// (spec.md §3 "IPInventory... refreshed by staleness sweeper"). When
	// staleOnly is true, only rows with enrichment_ts older than
	// staleBefore are returned; otherwise every known IP is eligible.
	ListForRefresh(ctx context.Context, staleOnly bool, staleBefore time.Time, limit int) ([]string, error)
}

// ASNInventoryRepo persists org-level facts (spec.md §3 ASNInventory).
type ASNInventoryRepo interface {
	// EnsureLocked creates the ASN row if missing under a row-level lock,
	// then runs fn to allow the caller to refresh last_seen, etc.
	EnsureLocked(ctx context.Context, asn int64, fn func(current *model.ASNInventory) (*model.ASNInventory, error)) error
}

// SSHKeyRepo persists SSH key intelligence and session linkage (spec.md §3
// SSHKeyIntelligence).
type SSHKeyRepo interface {
	Upsert(ctx context.Context, key model.SSHKeyIntelligence, sessionID, sourceIP string) error
}

// PasswordRepo persists password tracking and session/username linkage
// (spec.md §3 PasswordTracking).
type PasswordRepo interface {
	Upsert(ctx context.Context, pw model.PasswordTracking, sessionID, username string, policy model.PasswordPolicy) error
	MarkBreachChecked(ctx context.Context, passwordHash string, breached bool, prevalence int, checkedAt time.Time) error
}

// FileArtifactRepo persists downloaded-file facts (spec.md §3 FileArtifact).
type FileArtifactRepo interface {
	Upsert(ctx context.Context, f model.FileArtifact) error
	MarkVTFlagged(ctx context.Context, sha256 string, analysis map[string]any, flagged bool) error
}

// DeadLetterRepo persists unparseable/invalid events (spec.md §3
// DeadLetterEvent, §4.E).
type DeadLetterRepo interface {
	Insert(ctx context.Context, ev model.DeadLetterEvent) (int64, error)
	CountByReason(ctx context.Context) (map[model.DeadLetterReason]int64, error)
	// ForRepair returns up to limit rows eligible for a repair attempt,
	// oldest first.
	ForRepair(ctx context.Context, limit int) ([]model.DeadLetterEvent, error)
	IncrementRetry(ctx context.Context, id int64, at time.Time) error
	Promote(ctx context.Context, id int64) error
}

// CheckpointRepo persists (phase, source) progress (spec.md §6 "Checkpoint
// layout").
type CheckpointRepo interface {
	// Get returns the last committed checkpoint, or the zero value if none
	// exists yet.
	Get(ctx context.Context, phase, source string) (model.Checkpoint, bool, error)
	// Save writes cp in the same transaction tx (spec.md §4.J "Checkpoints
	// are written under the same transaction as the batch commit").
	Save(ctx context.Context, tx Tx, cp model.Checkpoint) error
}

// CacheRepo is the L2 database-backed cache tier (spec.md §3
// EnrichmentCache, §4.F).
type CacheRepo interface {
	Get(ctx context.Context, service, keyHash string) (*model.CacheEntry, error)
	Put(ctx context.Context, entry model.CacheEntry) error
	TouchHit(ctx context.Context, service, keyHash string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

// SchemaStateRepo reads/writes the migration bookkeeping table (spec.md §3
// SchemaState, §4.K).
type SchemaStateRepo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, tx Tx, key, value string) error
}

// RawEventRow is one page row the Sanitization Sweeper inspects (spec.md
// §4.M). PayloadText is the raw `::text` cast of the JSONB column, checked
// against the pre-filter pattern before the (more expensive) parsed form is
// touched.
type RawEventRow struct {
	ID          int64
	PayloadText string
	Payload     model.Payload
}

// SweepRepo exposes cursor-based pagination and single-row updates for the
// Sanitization Sweeper (spec.md §4.M), kept distinct from RawEventRepo
// because the sweeper's access pattern (id-keyed pagination, in-place
// payload rewrite) is unrelated to ingestion's append/dedup pattern.
type SweepRepo interface {
	// ScanPage returns up to limit rows with id > afterID, ordered by id.
	ScanPage(ctx context.Context, afterID int64, limit int) ([]RawEventRow, error)
	// UpdateSanitizedPayload rewrites one row's payload and its recomputed
	// hash. No shared transaction across rows/pages (spec.md §4.M "MUST
	// tolerate interruption -- no shared transaction across batches").
	UpdateSanitizedPayload(ctx context.Context, id int64, payload model.Payload, payloadHash string) error
}

// Tx is the minimal transaction handle repositories accept so callers (the
// bulk loader) can compose a checkpoint write into the same transaction as
// a batch insert (spec.md §4.J).
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) error
}
