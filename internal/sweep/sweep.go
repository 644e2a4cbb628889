// Package sweep implements the Sanitization Sweeper (spec.md §4.M): an
// offline cleaner for historical RawEvent rows that were written before a
// sanitizer fix (or that slipped through one), re-running §4.A's sanitizer
// over the parsed payload and rewriting the row in place.
//
// Grounded on internal/migrate's stepBackfillSnapshot cursor/batch loop
// shape, adapted from "UPDATE ... FROM ... LIMIT" set-based batching to
// per-row updates, because spec.md §4.M explicitly forbids a shared
// transaction across batches ("MUST tolerate interruption") where the
// migrator's backfill step runs each batch inside the migration's overall
// transaction.
package sweep

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/sanitize"
	"github.com/cowrieproc/ingestcore/internal/store"
)

// DefaultPageSize bounds one pagination page (spec.md §4.M "WHERE id >
// last_id ORDER BY id LIMIT K").
const DefaultPageSize = 1000

// Config configures a Sweeper.
type Config struct {
	Repo     store.SweepRepo
	PageSize int
	DryRun   bool
	Log      *slog.Logger
}

func (c *Config) Validate() error {
	if c.Repo == nil {
		return fmt.Errorf("sweep: Repo is required")
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}

// Sweeper cleans historical rows whose payload text still contains the
// JSON-escaped control-character pattern (spec.md §4.A, §4.M).
type Sweeper struct {
	cfg Config
}

func New(cfg Config) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sweeper{cfg: cfg}, nil
}

// Report summarizes one full sweep.
type Report struct {
	RowsScanned  int64
	RowsMatched  int64 // matched the pre-filter
	RowsCleaned  int64 // actually rewritten (always 0 in DryRun)
	Sample       []int64
	LastID       int64
}

const maxSample = 20

// Run pages through raw_events from the beginning (or from afterID, for a
// resumed run), pre-filtering with sanitize.HasJSONEscapedControl before
// touching any row, and either reports (DryRun) or rewrites matches.
// No transaction spans pages or even rows within a page (spec.md §4.M),
// so an interrupted run can simply be restarted with the last reported
// LastID.
func (s *Sweeper) Run(ctx context.Context, afterID int64) (Report, error) {
	var report Report
	report.LastID = afterID

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := s.cfg.Repo.ScanPage(ctx, report.LastID, s.cfg.PageSize)
		if err != nil {
			return report, fmt.Errorf("sweep: scan page after %d: %w", report.LastID, err)
		}
		if len(page) == 0 {
			return report, nil
		}

		for _, row := range page {
			report.RowsScanned++
			report.LastID = row.ID

			if !sanitize.HasJSONEscapedControl(row.PayloadText) {
				continue
			}
			report.RowsMatched++
			if len(report.Sample) < maxSample {
				report.Sample = append(report.Sample, row.ID)
			}
			if s.cfg.DryRun {
				continue
			}

			cleaned, hash := sanitizeAndHash(row.Payload)
			if err := s.cfg.Repo.UpdateSanitizedPayload(ctx, row.ID, cleaned, hash); err != nil {
				return report, fmt.Errorf("sweep: update row id=%d: %w", row.ID, err)
			}
			report.RowsCleaned++
		}
	}
}

func sanitizeAndHash(p model.Payload) (model.Payload, string) {
	cleaned := p.Clone()
	sanitize.Payload(cleaned)
	canonical, err := cleaned.MarshalCanonicalJSON()
	if err != nil {
		return cleaned, ""
	}
	sum := sha256.Sum256(canonical)
	return cleaned, hex.EncodeToString(sum[:])
}
