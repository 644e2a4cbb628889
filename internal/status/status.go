// Package status implements the Status Emitter (spec.md §4.N): compact
// JSON progress documents written atomically (temp file + rename) under a
// configured directory, one per phase plus an aggregated roll-up.
// Emission is lossy by design: observers sample the file, there is no
// backpressure on producers.
//
// Grounded on lake/api/handlers/status_cache.go's mutex-guarded
// periodically-refreshed struct shape, adapted from an in-memory read cache
// serving HTTP responses to a disk-persisted write target observers poll,
// since spec.md §4.N documents are read by external tooling, not served
// in-process.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Document is one phase's progress snapshot (spec.md §4.N field list).
type Document struct {
	Phase             string    `json:"phase"`
	IngestID          string    `json:"ingest_id"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	RecordsProcessed  int64     `json:"records_processed"`
	RecordsUpdated    int64     `json:"records_updated"`
	RecordsSkipped    int64     `json:"records_skipped"`
	RecordsErrored    int64     `json:"records_errored"`
	LastCheckpoint    string    `json:"last_checkpoint,omitempty"`
	DeadLetterTotal   int64     `json:"dead_letter_total"`
	SourceCallCounts  map[string]int64 `json:"source_call_counts,omitempty"`
	SourceFailCounts  map[string]int64 `json:"source_fail_counts,omitempty"`
	Done              bool      `json:"done"`
}

// Aggregate is the roll-up written to status.json (spec.md §4.N "aggregate
// roll-up").
type Aggregate struct {
	UpdatedAt   time.Time           `json:"updated_at"`
	Phases      map[string]Document `json:"phases"`
	DeadLetter  struct {
		Total int64 `json:"total"`
	} `json:"dead_letter"`
}

// Emitter writes phase documents under Dir, tracking enough in-memory state
// to recompute the aggregate on every write without re-reading every phase
// file from disk.
type Emitter struct {
	mu    sync.Mutex
	dir   string
	docs  map[string]Document
	clk   clockwork.Clock
}

func New(dir string, clk clockwork.Clock) (*Emitter, error) {
	if dir == "" {
		return nil, fmt.Errorf("status: directory is required")
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}
	return &Emitter{dir: dir, docs: make(map[string]Document), clk: clk}, nil
}

// Emit writes the per-phase document and refreshes the aggregate
// (spec.md §4.N "one per phase... plus an aggregated status.json").
func (e *Emitter) Emit(doc Document) error {
	doc.UpdatedAt = e.clk.Now()

	e.mu.Lock()
	e.docs[doc.Phase] = doc
	snapshot := make(map[string]Document, len(e.docs))
	for k, v := range e.docs {
		snapshot[k] = v
	}
	e.mu.Unlock()

	if err := writeJSONAtomic(e.phasePath(doc.Phase), doc); err != nil {
		return fmt.Errorf("emit status for phase %s: %w", doc.Phase, err)
	}

	agg := Aggregate{UpdatedAt: doc.UpdatedAt, Phases: snapshot}
	for _, d := range snapshot {
		agg.DeadLetter.Total += d.DeadLetterTotal
	}
	if err := writeJSONAtomic(filepath.Join(e.dir, "status.json"), agg); err != nil {
		return fmt.Errorf("emit aggregate status: %w", err)
	}
	return nil
}

func (e *Emitter) phasePath(phase string) string {
	return filepath.Join(e.dir, phase+".json")
}

// writeJSONAtomic marshals v and writes it via a temp file + rename so
// observers polling the directory never see a half-written document
// (spec.md §4.N "Each write is atomic").
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status document: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp status file into place: %w", err)
	}
	return nil
}
