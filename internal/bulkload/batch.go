package bulkload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/validate"
)

// flushResult reports what happened to the rows in one committed batch.
type flushResult struct {
	inserted int64
	skipped  int64
}

// batcher accumulates validated events for one file into batches of up to
// Config.BatchSize (or Config.BatchInterval elapsed), computing a per-file
// set of session deltas so that a single flush commits raw events, deltas,
// and the advancing checkpoint together (spec.md §4.I steps 5-8, §4.J).
type batcher struct {
	cfg    Config
	path   string
	inode  string
	lastFlush time.Time

	events []model.RawEvent
	deltas map[string]*model.SessionDelta
}

func newBatcher(cfg Config, path, inode string) *batcher {
	return &batcher{
		cfg:       cfg,
		path:      path,
		inode:     inode,
		lastFlush: cfg.Clock.Now(),
		deltas:    make(map[string]*model.SessionDelta),
	}
}

func (b *batcher) add(ctx context.Context, payload model.Payload, startOffset int64) error {
	v := validate.Event(payload)
	now := b.cfg.Clock.Now()

	ts := v.Timestamp
	if ts.IsZero() {
		// spec.md §4.I "If event_timestamp is missing, use ingest_at."
		ts = now
	}

	canonical, err := payload.MarshalCanonicalJSON()
	if err != nil {
		return fmt.Errorf("canonicalize payload at %s@%d: %w", b.path, startOffset, err)
	}
	sum := sha256.Sum256(canonical)

	sessionID := payload.SessionID()
	score := riskScore(payload, v.EventType)

	ev := model.RawEvent{
		IngestID:       b.cfg.IngestID,
		IngestAt:       now,
		Source:         b.path,
		SourceOffset:   startOffset,
		SourceInode:    b.inode,
		Payload:        payload,
		PayloadHash:    hex.EncodeToString(sum[:]),
		SessionID:      sessionID,
		EventType:      v.EventType,
		EventTimestamp: ts,
		RiskScore:      score,
		Quarantined:    score >= QuarantineThreshold,
	}
	b.events = append(b.events, ev)
	b.extractFacts(ctx, ev)

	if sessionID != "" {
		d := b.deltas[sessionID]
		if d == nil {
			d = &model.SessionDelta{SessionID: sessionID}
			b.deltas[sessionID] = d
		}
		applyEventToDelta(d, ev, b.path)
	}

	if len(b.events) >= b.cfg.BatchSize || now.Sub(b.lastFlush) >= b.cfg.BatchInterval {
		res, err := b.flush(ctx)
		if err != nil {
			return err
		}
		_ = res
	}
	return nil
}

// applyEventToDelta folds one event into its session's running delta
// (spec.md §4.I "Session aggregate update contract").
func applyEventToDelta(d *model.SessionDelta, ev model.RawEvent, sourceFile string) {
	if d.FirstEventAt.IsZero() || ev.EventTimestamp.Before(d.FirstEventAt) {
		d.FirstEventAt = ev.EventTimestamp
	}
	if ev.EventTimestamp.After(d.LastEventAt) {
		d.LastEventAt = ev.EventTimestamp
	}
	d.EventCount++
	d.SourceFile = sourceFile
	if ev.RiskScore > d.RiskScore {
		d.RiskScore = ev.RiskScore
	}

	switch model.EventType(ev.EventType) {
	case model.EventCommandInput:
		d.CommandCount++
	case model.EventLoginSuccess, model.EventLoginFailed:
		d.LoginAttempts++
	case model.EventSessionFileDl, model.EventSessionFileUpload:
		d.FileDownloads++
	case model.EventSSHKexAuth:
		d.SSHKeyInjections++
	}

	if srcIP := ev.Payload.String("src_ip"); srcIP != "" {
		if d.CanonicalSrcIP == "" || ev.EventTimestamp.Before(d.CanonicalSrcTS) {
			d.CanonicalSrcIP = srcIP
			d.CanonicalSrcTS = ev.EventTimestamp
		}
	}
}

// flush commits the accumulated batch via Config.Committer and resets the
// buffer (spec.md §4.I steps 6-8, §4.J "Checkpoints are written under the
// same transaction as the batch commit").
func (b *batcher) flush(ctx context.Context) (flushResult, error) {
	if len(b.events) == 0 {
		b.lastFlush = b.cfg.Clock.Now()
		return flushResult{}, nil
	}

	deltas := make([]model.SessionDelta, 0, len(b.deltas))
	for _, d := range b.deltas {
		deltas = append(deltas, *d)
	}

	// A conservative (never-skips-data) resume point: everything strictly
	// before the last event's own start offset is durably committed. A
	// resumed run may re-read that final event, but it dedupes cleanly on
	// the (source, source_offset, payload_hash) unique constraint.
	lastOffset := b.events[len(b.events)-1].SourceOffset
	cp := model.Checkpoint{
		Phase:        b.cfg.Phase,
		Source:       b.path,
		SourceOffset: lastOffset,
		SourceInode:  b.inode,
		UpdatedAt:    b.cfg.Clock.Now(),
	}

	inserted, err := b.cfg.Committer.CommitBatch(ctx, b.events, deltas, cp)
	if err != nil {
		return flushResult{}, fmt.Errorf("commit batch for %s (%d events): %w", b.path, len(b.events), err)
	}

	var res flushResult
	for _, ok := range inserted {
		if ok {
			res.inserted++
		} else {
			res.skipped++
		}
	}

	b.events = b.events[:0]
	b.deltas = make(map[string]*model.SessionDelta)
	b.lastFlush = b.cfg.Clock.Now()
	return res, nil
}

// riskScore is a small heuristic over well-known event types and payload
// fields (spec.md §4.I "Quarantine threshold: if risk_score >= 80"). It
// never returns a value outside 0..100.
func riskScore(p model.Payload, eventType string) int {
	score := 0
	switch model.EventType(eventType) {
	case model.EventSSHKexAuth:
		score += 40 // key injection attempts are inherently suspicious
	case model.EventSessionFileUpload, model.EventSessionFileDl:
		score += 30
	case model.EventLoginSuccess:
		score += 20
	case model.EventCommandInput:
		score += 10
	}
	if input := p.String("input"); input != "" {
		for _, sub := range suspiciousCommandSubstrings {
			if strings.Contains(input, sub) {
				score += 40
				break
			}
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// suspiciousCommandSubstrings names shell fragments commonly seen in
// automated honeypot exploitation (download-and-execute, history wiping).
var suspiciousCommandSubstrings = []string{
	"wget ", "curl ", "chmod +x", "/dev/tcp/", "history -c", "rm -rf /",
}
