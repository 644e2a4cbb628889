// Package deadletter implements the repair-pass half of the Dead-Letter
// Queue (spec.md §4.E): a durable store for unparseable/invalid events that
// never blocks ingestion, plus a repair pass that later attempts to rescue
// rows via a direct re-parse, a re-parse after aggressive sanitization, or
// fragment stitching, promoting successes into RawEvent and otherwise
// bumping a retry counter.
//
// Grounded on internal/bulkload's parse/validate/sanitize pipeline (same
// three stages, run here against DLQ rows instead of a live file stream),
// and internal/multiline's accumulate-then-validate shape for the
// fragment-stitching strategy.
package deadletter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/sanitize"
	"github.com/cowrieproc/ingestcore/internal/store"
	"github.com/cowrieproc/ingestcore/internal/validate"
)

// DefaultBatchLimit bounds one repair pass (spec.md §4.E "repair pass may
// later attempt strategies... and either promote the row... or increment
// its retry count").
const DefaultBatchLimit = 500

// Config configures a Repairer. RawEvents/Sessions are used directly
// (rather than store.BatchCommitter) because a repair pass has no
// checkpoint to advance -- it must never touch the checkpoints table.
type Config struct {
	DeadLetter store.DeadLetterRepo
	RawEvents  store.RawEventRepo
	Sessions   store.SessionSummaryRepo
	BatchLimit int
	IngestID   string
	Log        *slog.Logger
	Clock      clockwork.Clock
}

func (c *Config) Validate() error {
	if c.DeadLetter == nil {
		return fmt.Errorf("deadletter: DeadLetter is required")
	}
	if c.RawEvents == nil {
		return fmt.Errorf("deadletter: RawEvents is required")
	}
	if c.Sessions == nil {
		return fmt.Errorf("deadletter: Sessions is required")
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.IngestID == "" {
		c.IngestID = "dlq-repair"
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Repairer runs repair passes over dead-lettered rows (spec.md §4.E).
type Repairer struct {
	cfg Config
}

func New(cfg Config) (*Repairer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Repairer{cfg: cfg}, nil
}

// Report summarizes one repair pass.
type Report struct {
	Attempted int
	Promoted  int
	Retried   int
}

// RunRepairPass fetches up to BatchLimit eligible rows and tries, per row
// (and per adjacent pair within the same source, for stitching): a direct
// re-parse, an aggressively-sanitized re-parse, and a stitched-with-next-
// fragment re-parse. Rows that succeed are promoted into RawEvent (and
// their session's aggregate updated); rows that still fail have their
// retry counter bumped. Never fails the whole pass on a single row's
// error (spec.md §4.E "The DLQ never blocks ingestion").
func (r *Repairer) RunRepairPass(ctx context.Context) (Report, error) {
	rows, err := r.cfg.DeadLetter.ForRepair(ctx, r.cfg.BatchLimit)
	if err != nil {
		return Report{}, fmt.Errorf("deadletter: list rows for repair: %w", err)
	}
	if len(rows) == 0 {
		return Report{}, nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Source != rows[j].Source {
			return rows[i].Source < rows[j].Source
		}
		return rows[i].SourceOffset < rows[j].SourceOffset
	})

	var report Report
	consumed := make(map[int64]bool)
	var toInsert []model.RawEvent
	var deltas []model.SessionDelta
	now := r.cfg.Clock.Now()

	for i, row := range rows {
		if consumed[row.ID] {
			continue
		}
		report.Attempted++

		payload, ok := tryDirectParse(row.Payload)
		if !ok {
			payload, ok = trySanitizedParse(row.Payload)
		}
		var stitchedWith int64
		if !ok && i+1 < len(rows) && rows[i+1].Source == row.Source && !consumed[rows[i+1].ID] {
			payload, ok = tryStitchedParse(row.Payload, rows[i+1].Payload)
			if ok {
				stitchedWith = rows[i+1].ID
			}
		}
		if !ok {
			if err := r.cfg.DeadLetter.IncrementRetry(ctx, row.ID, now); err != nil {
				return report, fmt.Errorf("deadletter: increment retry id=%d: %w", row.ID, err)
			}
			report.Retried++
			continue
		}

		sanitized, _ := sanitize.Payload(payload)
		v := validate.Event(sanitized)
		if !v.Valid {
			if err := r.cfg.DeadLetter.IncrementRetry(ctx, row.ID, now); err != nil {
				return report, fmt.Errorf("deadletter: increment retry id=%d: %w", row.ID, err)
			}
			report.Retried++
			continue
		}

		ev := r.buildRawEvent(row, sanitized, v, now)
		toInsert = append(toInsert, ev)
		if sid := sanitized.SessionID(); sid != "" {
			deltas = append(deltas, model.SessionDelta{
				SessionID:    sid,
				FirstEventAt: ev.EventTimestamp,
				LastEventAt:  ev.EventTimestamp,
				EventCount:   1,
				SourceFile:   row.Source,
			})
		}

		consumed[row.ID] = true
		if stitchedWith != 0 {
			consumed[stitchedWith] = true
		}
	}

	if len(toInsert) > 0 {
		inserted, err := r.cfg.RawEvents.InsertBatch(ctx, toInsert)
		if err != nil {
			return report, fmt.Errorf("deadletter: insert repaired events: %w", err)
		}
		if len(deltas) > 0 {
			if err := r.cfg.Sessions.UpsertDeltas(ctx, deltas); err != nil {
				return report, fmt.Errorf("deadletter: upsert repaired session deltas: %w", err)
			}
		}
		for i := range toInsert {
			if i < len(inserted) && !inserted[i] {
				continue // deduped against an existing row; still promote the DLQ entry below
			}
			report.Promoted++
		}
	}

	for id := range consumed {
		if err := r.cfg.DeadLetter.Promote(ctx, id); err != nil {
			return report, fmt.Errorf("deadletter: promote id=%d: %w", id, err)
		}
	}
	return report, nil
}

func (r *Repairer) buildRawEvent(row model.DeadLetterEvent, payload model.Payload, v validate.Result, now time.Time) model.RawEvent {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = now
	}
	canonical, _ := payload.MarshalCanonicalJSON()
	sum := sha256.Sum256(canonical)
	return model.RawEvent{
		IngestID:       r.cfg.IngestID,
		IngestAt:       now,
		Source:         row.Source,
		SourceOffset:   row.SourceOffset,
		Payload:        payload,
		PayloadHash:    hex.EncodeToString(sum[:]),
		SessionID:      payload.SessionID(),
		EventType:      v.EventType,
		EventTimestamp: ts,
	}
}

func tryDirectParse(raw []byte) (model.Payload, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return model.Payload(m), true
}

func trySanitizedParse(raw []byte) (model.Payload, bool) {
	cleaned := sanitize.StripJSONEscapes(string(raw))
	return tryDirectParse([]byte(cleaned))
}

// tryStitchedParse joins two adjacent dead-lettered fragments in file order
// and attempts to parse the result as a single (previously-truncated)
// pretty-printed JSON block (spec.md §4.E "stitching fragments").
func tryStitchedParse(first, second []byte) (model.Payload, bool) {
	joined := bytes.Join([][]byte{bytes.TrimRight(first, "\n"), second}, []byte("\n"))
	return tryDirectParse(joined)
}
