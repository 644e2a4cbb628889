package model

import "time"

// IPType classifies an IP's observed role (spec.md §3 IPInventory).
type IPType string

const (
	IPTypeTor         IPType = "tor"
	IPTypeCloud       IPType = "cloud"
	IPTypeDatacenter  IPType = "datacenter"
	IPTypeResidential IPType = "residential"
	IPTypeVPN         IPType = "vpn"
	IPTypeProxy       IPType = "proxy"
	IPTypeUnknown     IPType = "unknown"
)

// ipTypeRank implements the tie-break order from spec.md §4.H:
// "tor > cloud > datacenter > vpn > proxy > residential".
var ipTypeRank = map[IPType]int{
	IPTypeTor:         6,
	IPTypeCloud:       5,
	IPTypeDatacenter:  4,
	IPTypeVPN:         3,
	IPTypeProxy:       2,
	IPTypeResidential: 1,
	IPTypeUnknown:     0,
}

// PreferredIPType returns whichever of a/b has the higher confidence; at
// equal confidence, whichever ranks higher per the tie-break order; full
// ties keep a (first-seen wins, mirroring "source 1 wins" framing).
func PreferredIPType(a, b IPType, aConfidence, bConfidence int) IPType {
	if bConfidence > aConfidence {
		return b
	}
	if bConfidence < aConfidence {
		return a
	}
	if ipTypeRank[b] > ipTypeRank[a] {
		return b
	}
	return a
}

// FieldProvenance tracks which enrichment source last set a given field and
// when, per spec.md §4.H "Timestamps are per-source". Keyed by field name
// ("country_code", "asn_number", "asn_org", "ip_type").
type FieldProvenance map[string]ProvenanceEntry

type ProvenanceEntry struct {
	Source string
	SetAt  time.Time
}

// IPInventory is the current best-known enrichment for one IP (spec.md §3).
type IPInventory struct {
	IPAddress     string
	CountryCode   string
	ASNNumber     *int64
	ASNOrg        string
	IPType        IPType
	FirstSeen     time.Time
	LastSeen      time.Time
	EnrichmentTS  time.Time
	Source        string // enum per field in practice; coarse summary here
	Provenance    FieldProvenance
}

// ASNInventory is org-level facts populated lazily (spec.md §3).
type ASNInventory struct {
	ASNNumber    int64
	ASNOrg       string
	CountryHint  string
	FirstSeen    time.Time
	LastSeen     time.Time
}

// EnrichmentResult is the per-IP outcome the cascade hands back to callers.
// A totally unenriched lookup (all sources denied/errored, no cache hit)
// returns Sentinel=true per spec.md §4.H "Failure semantics".
type EnrichmentResult struct {
	IP        IPInventory
	ASN       *ASNInventory
	Sentinel  bool // true means "never enriched"
	Sources   []string // sources that contributed at least one field
	Errors    []SourceError
}

type SourceError struct {
	Source string
	Err    error
}

// CacheStatus is the outcome of a single enrichment-source call, also used
// as the EnrichmentCache.response_status enum (spec.md §3).
type CacheStatus string

const (
	StatusSuccess     CacheStatus = "success"
	StatusNotFound    CacheStatus = "not_found"
	StatusError       CacheStatus = "error"
	StatusRateLimited CacheStatus = "rate_limited"
)

// CacheEntry is the L2/L3 wire shape (spec.md §3 EnrichmentCache, §6 "Cache
// wire shape").
type CacheEntry struct {
	ID            int64
	Service       string
	Key           string
	KeyHash       string // hex SHA-256 of Key
	Payload       []byte // raw JSON
	Status        CacheStatus
	CreatedAt     time.Time
	AccessedAt    time.Time
	ExpiresAt     time.Time
	APILatencyMS  int64
	HitCount      int64
}

// Expired reports whether the entry should be treated as a miss.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
