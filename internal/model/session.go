package model

import "time"

// SessionSummary aggregates per-session counters plus sealed snapshot
// columns (spec.md §3 SessionSummary).
type SessionSummary struct {
	SessionID        string
	FirstEventAt     time.Time
	LastEventAt      time.Time
	EventCount       int64
	CommandCount     int64
	LoginAttempts    int64
	FileDownloads    int64
	SSHKeyInjections int64
	UniqueSSHKeys    int64
	VTFlagged        bool
	DshieldFlagged   bool
	RiskScore        int
	Matcher          string
	SourceFiles      []string // ordered set, insertion order preserved
	Enrichment       map[string]any

	// Snapshot columns, sealed after first non-null write (spec.md §4.L).
	SourceIP         string
	SnapshotASN      *int64
	SnapshotCountry  *string
	SnapshotIPType   *string
	EnrichmentAt     *time.Time
}

// HasSnapshot reports whether the snapshot columns have already been sealed.
func (s *SessionSummary) HasSnapshot() bool {
	return s.SnapshotASN != nil || s.SnapshotCountry != nil || s.SnapshotIPType != nil
}

// AddSourceFile appends path to SourceFiles if not already present,
// preserving the set-union semantics required by spec.md §4.I step 7.
func (s *SessionSummary) AddSourceFile(path string) {
	for _, f := range s.SourceFiles {
		if f == path {
			return
		}
	}
	s.SourceFiles = append(s.SourceFiles, path)
}

// SessionDelta is the additive contribution of one batch to a session's
// counters (spec.md §4.I "Session aggregate update contract").
type SessionDelta struct {
	SessionID        string
	FirstEventAt     time.Time
	LastEventAt      time.Time
	EventCount       int64
	CommandCount     int64
	LoginAttempts    int64
	FileDownloads    int64
	SSHKeyInjections int64
	SourceFile       string
	CanonicalSrcIP   string // IP of the earliest event by event_timestamp in this batch
	CanonicalSrcTS   time.Time
	RiskScore        int
}

// Merge folds d into an existing summary using the commutative/monotonic
// rules from spec.md §4.I and §5 (min/max timestamps, additive counters,
// set-union source files, first-write-wins canonical source IP by earliest
// timestamp seen so far).
func (s *SessionSummary) Merge(d SessionDelta, earliestKnownSrcTS time.Time) {
	if s.FirstEventAt.IsZero() || d.FirstEventAt.Before(s.FirstEventAt) {
		s.FirstEventAt = d.FirstEventAt
	}
	if d.LastEventAt.After(s.LastEventAt) {
		s.LastEventAt = d.LastEventAt
	}
	s.EventCount += d.EventCount
	s.CommandCount += d.CommandCount
	s.LoginAttempts += d.LoginAttempts
	s.FileDownloads += d.FileDownloads
	s.SSHKeyInjections += d.SSHKeyInjections
	if d.RiskScore > s.RiskScore {
		s.RiskScore = d.RiskScore
	}
	if d.SourceFile != "" {
		s.AddSourceFile(d.SourceFile)
	}
	if d.CanonicalSrcIP != "" && (s.SourceIP == "" || d.CanonicalSrcTS.Before(earliestKnownSrcTS)) {
		s.SourceIP = d.CanonicalSrcIP
	}
}
