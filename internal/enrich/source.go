// Package enrich implements the enrichment cascade (spec.md §4.H): an
// ordered, early-terminating sequence of Sources consulted per IP, with
// per-field provenance tracking and row-locked idempotent merges into
// internal/store's IPInventoryRepo/ASNInventoryRepo.
//
// Grounded on telemetry/flow-enricher/internal/flow-enricher/enricher.go's
// Annotator interface (Init/Annotate/String, registered via AddAnnotator and
// run in registration order against each record) — adapted from "every
// annotator always runs" to "run in order, stop at the first success per
// field" because spec.md §4.H requires early termination and provenance,
// which flow-enricher's flat annotator loop doesn't need.
package enrich

import (
	"context"
	"net"
	"time"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Lookup is what one enrichment source returns for a single IP. Any zero
// field means "this source had no opinion," letting the cascade fall
// through to the next source for that field specifically.
type Lookup struct {
	CountryCode string
	ASNNumber   *int64
	ASNOrg      string
	IPType      model.IPType
	Confidence  int // used by PreferredIPType tie-breaking (spec.md §4.H)
}

// Source is one enrichment backend in the cascade (spec.md §4.H "Source
// interface contract"). Name identifies it for provenance and metrics; TTL
// controls how long its results remain cacheable; Lookup performs the
// actual (possibly rate-limited, possibly network) call.
type Source interface {
	Name() string
	TTL() time.Duration
	Lookup(ctx context.Context, ip net.IP) (Lookup, model.CacheStatus, error)
}
