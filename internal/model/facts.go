package model

import "time"

// SSHKeyIntelligence is keyed by fingerprint (spec.md §3).
type SSHKeyIntelligence struct {
	ID             int64
	KeyType        string
	KeyData        string
	KeyFingerprint string // SHA-256, unique
	KeyHash        string
	KeyComment     string
	FirstSeen      time.Time
	LastSeen       time.Time
	TotalAttempts  int64
	UniqueSources  int64
	UniqueSessions int64
	KeyBits        int
}

// PasswordPolicy controls retention/exportability of captured attacker
// cleartext passwords, left configurable per spec.md §9 Open Questions.
type PasswordPolicy struct {
	Retain     bool
	Exportable bool
}

// DefaultPasswordPolicy captures cleartext for research but never exports it
// by default.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{Retain: true, Exportable: false}
}

// PasswordTracking is keyed by password_hash (spec.md §3).
type PasswordTracking struct {
	PasswordHash       string // SHA-256, unique
	Cleartext          *string
	FirstSeen          time.Time
	LastSeen           time.Time
	TimesSeen          int64
	UniqueSessions     int64
	Breached           *bool
	BreachPrevalence   *int
	LastBreachCheckAt  *time.Time
}

// FileArtifact is keyed by sha256 (spec.md §3).
type FileArtifact struct {
	SHA256     string
	FirstSeen  time.Time
	LastSeen   time.Time
	Size       int64
	URLSamples []string
	VTAnalysis map[string]any
	VTFlagged  bool
}

// DeadLetterReason is the enum from spec.md §3 DeadLetterEvent.reason.
type DeadLetterReason string

const (
	ReasonParse      DeadLetterReason = "parse"
	ReasonValidation DeadLetterReason = "validation"
	ReasonSanitize   DeadLetterReason = "sanitize"
	ReasonDedup      DeadLetterReason = "dedup"
	ReasonIngestErr  DeadLetterReason = "ingest-error"
)

// DeadLetterEvent is a durable record of an unparseable/invalid event
// (spec.md §3).
type DeadLetterEvent struct {
	ID            int64
	Source        string
	SourceOffset  int64
	Reason        DeadLetterReason
	Payload       []byte // raw text or JSON, whatever survived
	RetryCount    int
	CreatedAt     time.Time
	LastRetriedAt *time.Time
}

// ErrorKind classifies a failure for the status document / structured log
// fields per spec.md §7, without a parallel exception hierarchy.
type ErrorKind string

const (
	ErrorTransient        ErrorKind = "transient-io"
	ErrorRateLimit        ErrorKind = "rate-limit"
	ErrorParse            ErrorKind = "parse"
	ErrorValidation       ErrorKind = "validation"
	ErrorSanitizationLoss ErrorKind = "sanitization-loss"
	ErrorDuplicate        ErrorKind = "duplicate"
	ErrorSchemaVersion    ErrorKind = "schema-version"
	ErrorMigrationPartial ErrorKind = "migration-partial"
	ErrorCascadeUnknown   ErrorKind = "cascade-unknown"
)

// Checkpoint records (phase, source) progress for resumable ingestion
// (spec.md §3 SchemaState-adjacent bookkeeping, §6 "Checkpoint layout").
type Checkpoint struct {
	Phase        string
	Source       string
	SourceOffset int64
	SourceInode  string
	UpdatedAt    time.Time
}
