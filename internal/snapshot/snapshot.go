// Package snapshot implements the Snapshot Builder (spec.md §4.L): it
// batch-looks-up IPInventory for sessions whose snapshot columns are still
// null and seals them, idempotently, so it is safe to run inline during
// bulk ingestion or as a standalone backfill pass.
//
// Grounded on internal/migrate's stepBackfillSnapshot (same "batch of
// capped size, loop until done" shape, except that RunToCompletion stops on
// a pass that seals nothing rather than on a short batch), lifted
// out of the migrator into its own package because spec.md §4.L explicitly
// calls for both an inline and a one-off standalone mode, which the
// migrator (a schema-only, run-once-per-version component) cannot serve.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/cowrieproc/ingestcore/internal/store"
)

// DefaultBatchSize matches spec.md §4.L's example batch size ("up to N
// (e.g. 1,000) IPs at a time").
const DefaultBatchSize = 1000

// Config configures a Builder.
type Config struct {
	Sessions  store.SessionSummaryRepo
	Inventory store.IPInventoryRepo
	BatchSize int
	Log       *slog.Logger
	Clock     clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Sessions == nil {
		return fmt.Errorf("snapshot: Sessions is required")
	}
	if c.Inventory == nil {
		return fmt.Errorf("snapshot: Inventory is required")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Builder runs the snapshot backfill (spec.md §4.L).
type Builder struct {
	cfg Config
}

func New(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg}, nil
}

// Result reports how many sessions were sealed in one RunOnce call.
type Result struct {
	Sealed int
	Missed int // sessions whose source_ip had no IPInventory row yet
}

// RunOnce processes up to one batch of sessions missing a snapshot and
// returns. Callers drive the loop (RunToCompletion below, or their own)
// since a standalone backfill and an inline-during-ingest call have
// different looping needs.
func (b *Builder) RunOnce(ctx context.Context) (Result, error) {
	targets, err := b.cfg.Sessions.SessionsMissingSnapshot(ctx, b.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: list sessions missing snapshot: %w", err)
	}
	if len(targets) == 0 {
		return Result{}, nil
	}

	ips := make([]string, 0, len(targets))
	for _, t := range targets {
		ips = append(ips, t.SourceIP)
	}
	inv, err := b.cfg.Inventory.BatchGet(ctx, ips)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: batch-get inventory for %d ips: %w", len(ips), err)
	}

	var res Result
	now := b.cfg.Clock.Now()
	for _, t := range targets {
		entry, ok := inv[t.SourceIP]
		if !ok {
			res.Missed++
			continue
		}
		country := entry.CountryCode
		ipType := string(entry.IPType)
		at := entry.EnrichmentTS
		if at.IsZero() {
			at = now
		}
		if err := b.cfg.Sessions.SealSnapshot(ctx, t.SessionID, entry.ASNNumber, &country, &ipType, at); err != nil {
			return Result{}, fmt.Errorf("snapshot: seal session %s: %w", t.SessionID, err)
		}
		res.Sealed++
	}
	return res, nil
}

// RunToCompletion repeatedly calls RunOnce until a pass seals nothing new
// (spec.md §4.L's "for each SessionSummary... copy... into the snapshot
// columns" implies draining the full backlog for a standalone backfill
// run, as opposed to the single inline-during-ingest call a loader makes).
// Sessions whose source_ip has no IPInventory row yet (res.Missed) are left
// for a later pass once the enrichment cascade has populated it — stopping
// only on res.Sealed == 0 avoids looping forever on that permanently-stuck
// backlog.
func (b *Builder) RunToCompletion(ctx context.Context) (Result, error) {
	var total Result
	for {
		res, err := b.RunOnce(ctx)
		if err != nil {
			return total, err
		}
		total.Sealed += res.Sealed
		total.Missed += res.Missed
		if res.Sealed == 0 {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}
}
