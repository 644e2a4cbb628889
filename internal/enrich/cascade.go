package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/jonboulle/clockwork"

	"github.com/cowrieproc/ingestcore/internal/cache"
	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/ratelimit"
	"github.com/cowrieproc/ingestcore/internal/store"
)

// Config configures a Cascade.
type Config struct {
	Sources   []Source // consulted in order; first source to set country/ASN wins it; ip_type goes through model.PreferredIPType
	Cache     *cache.Tiered
	Limiter   *ratelimit.Registry // optional; nil means no rate limiting
	IPRepo    store.IPInventoryRepo
	ASNRepo   store.ASNInventoryRepo
	Log       *slog.Logger
	Clock     clockwork.Clock
}

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("enrich: at least one Source is required")
	}
	if c.IPRepo == nil {
		return fmt.Errorf("enrich: IPRepo is required")
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Cascade runs the ordered, early-terminating multi-source lookup spec.md
// §4.H describes.
type Cascade struct {
	cfg Config
}

func New(cfg Config) (*Cascade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cascade{cfg: cfg}, nil
}

// fieldState tracks, per field, whether it has already been set (the
// setting source is recorded in IPInventory.Provenance) — so later sources
// in the order can be skipped once every field has an answer (spec.md §4.H
// "early-terminating").
type fieldState struct {
	countrySet bool
	asnSet     bool
	ipTypeSet  bool
}

func (f fieldState) complete() bool {
	return f.countrySet && f.asnSet && f.ipTypeSet
}

// Enrich runs the cascade for one IP and upserts the merged result into
// IPInventory (and ASNInventory, when an ASN was resolved) under a
// per-IP row lock (spec.md §5).
func (c *Cascade) Enrich(ctx context.Context, ipStr string) (model.EnrichmentResult, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return model.EnrichmentResult{}, fmt.Errorf("enrich: invalid IP %q", ipStr)
	}
	now := c.cfg.Clock.Now()

	result := model.IPInventory{
		IPAddress:  ipStr,
		IPType:     model.IPTypeUnknown,
		FirstSeen:  now,
		LastSeen:   now,
		Provenance: model.FieldProvenance{},
	}
	var state fieldState
	var sourcesUsed []string
	var errs []model.SourceError
	var ipTypeConfidence int

	for _, src := range c.cfg.Sources {
		if state.complete() {
			break
		}
		lookup, err := c.lookupOne(ctx, src, ip)
		if err != nil {
			errs = append(errs, model.SourceError{Source: src.Name(), Err: err})
			continue
		}

		touched := false
		if !state.countrySet && lookup.CountryCode != "" {
			result.CountryCode = lookup.CountryCode
			result.Provenance["country_code"] = model.ProvenanceEntry{Source: src.Name(), SetAt: now}
			state.countrySet = true
			touched = true
		}
		if !state.asnSet && lookup.ASNNumber != nil {
			result.ASNNumber = lookup.ASNNumber
			result.ASNOrg = lookup.ASNOrg
			result.Provenance["asn_number"] = model.ProvenanceEntry{Source: src.Name(), SetAt: now}
			result.Provenance["asn_org"] = model.ProvenanceEntry{Source: src.Name(), SetAt: now}
			state.asnSet = true
			touched = true
		}
		if lookup.IPType != "" {
			preferred := model.PreferredIPType(result.IPType, lookup.IPType, ipTypeConfidence, lookup.Confidence)
			if preferred != result.IPType || !state.ipTypeSet {
				result.IPType = preferred
				ipTypeConfidence = lookup.Confidence
				result.Provenance["ip_type"] = model.ProvenanceEntry{Source: src.Name(), SetAt: now}
			}
			state.ipTypeSet = true
			touched = true
		}
		if touched {
			sourcesUsed = append(sourcesUsed, src.Name())
		}
	}

	result.EnrichmentTS = now
	if len(sourcesUsed) > 0 {
		result.Source = sourcesUsed[0]
	}

	sentinel := len(sourcesUsed) == 0
	var asnInv *model.ASNInventory
	if !sentinel {
		if err := c.cfg.IPRepo.UpsertLocked(ctx, ipStr, func(current *model.IPInventory) (*model.IPInventory, error) {
			merged := result
			if current != nil {
				if !merged.FirstSeen.After(current.FirstSeen) && !current.FirstSeen.IsZero() {
					merged.FirstSeen = current.FirstSeen
				}
				if current.LastSeen.After(merged.LastSeen) {
					merged.LastSeen = current.LastSeen
				}
			}
			return &merged, nil
		}); err != nil {
			return model.EnrichmentResult{}, fmt.Errorf("upsert ip_inventory for %s: %w", ipStr, err)
		}

		if result.ASNNumber != nil && c.cfg.ASNRepo != nil {
			asn := *result.ASNNumber
			if err := c.cfg.ASNRepo.EnsureLocked(ctx, asn, func(current *model.ASNInventory) (*model.ASNInventory, error) {
				merged := model.ASNInventory{
					ASNNumber:   asn,
					ASNOrg:      result.ASNOrg,
					CountryHint: result.CountryCode,
					FirstSeen:   now,
					LastSeen:    now,
				}
				if current != nil && !current.FirstSeen.IsZero() {
					merged.FirstSeen = current.FirstSeen
					if merged.ASNOrg == "" {
						merged.ASNOrg = current.ASNOrg
					}
				}
				return &merged, nil
			}); err != nil {
				return model.EnrichmentResult{}, fmt.Errorf("ensure asn_inventory for %d: %w", asn, err)
			}
			asnInv = &model.ASNInventory{ASNNumber: asn, ASNOrg: result.ASNOrg, CountryHint: result.CountryCode}
		}
	}

	return model.EnrichmentResult{
		IP:       result,
		ASN:      asnInv,
		Sentinel: sentinel,
		Sources:  sourcesUsed,
		Errors:   errs,
	}, nil
}

// lookupOne consults the tiered cache before calling the source, writing
// back whatever the source returns (spec.md §4.F/§4.H composition).
func (c *Cascade) lookupOne(ctx context.Context, src Source, ip net.IP) (Lookup, error) {
	ipStr := ip.String()
	if c.cfg.Cache != nil {
		if entry, ok := c.cfg.Cache.Get(ctx, src.Name(), ipStr); ok {
			var l Lookup
			if err := decodeLookup(entry.Payload, &l); err == nil {
				return l, nil
			}
		}
	}

	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Acquire(ctx, src.Name()); err != nil {
			return Lookup{}, fmt.Errorf("rate limit %s: %w", src.Name(), err)
		}
	}

	lookup, status, err := src.Lookup(ctx, ip)
	if err != nil {
		return Lookup{}, err
	}

	if c.cfg.Cache != nil {
		payload, encErr := encodeLookup(lookup)
		if encErr == nil {
			now := c.cfg.Clock.Now()
			c.cfg.Cache.Put(ctx, model.CacheEntry{
				Service:    src.Name(),
				Key:        ipStr,
				KeyHash:    cache.KeyHash(src.Name(), ipStr),
				Payload:    payload,
				Status:     status,
				CreatedAt:  now,
				AccessedAt: now,
				ExpiresAt:  now.Add(src.TTL()),
			})
		}
	}
	return lookup, nil
}
