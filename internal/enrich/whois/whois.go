// Package whois implements the ASN/whois fallback enrichment source
// (spec.md §4.H "whois/ASN fallback"), consulted after the offline geo/ASN
// database when it can't resolve a field.
//
// Grounded on controlplane/telemetry/internal/telemetry/submitter.go's
// backoff.Retry usage (cenkalti/backoff/v5, exponential backoff + bounded
// retries around an external call) — adapted here to wrap an HTTP whois/RDAP
// lookup instead of an RPC call.
package whois

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cowrieproc/ingestcore/internal/enrich"
	"github.com/cowrieproc/ingestcore/internal/model"
)

// Source queries an RDAP-compatible whois gateway for ASN/org/country
// facts. BaseURL is expected to accept GET {BaseURL}/ip/{ip} and respond
// with the rdapResponse shape below.
type Source struct {
	log     *slog.Logger
	client  *http.Client
	baseURL string
	ttl     time.Duration
	retries int
}

type Config struct {
	BaseURL string
	Client  *http.Client
	TTL     time.Duration
	Retries int
	Log     *slog.Logger
}

func New(cfg Config) (*Source, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("whois: BaseURL is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Source{
		log:     cfg.Log,
		client:  cfg.Client,
		baseURL: cfg.BaseURL,
		ttl:     cfg.TTL,
		retries: cfg.Retries,
	}, nil
}

func (s *Source) Name() string       { return "whois" }
func (s *Source) TTL() time.Duration { return s.ttl }

type rdapResponse struct {
	ASNNumber   int64  `json:"asn_number"`
	ASNOrg      string `json:"asn_org"`
	CountryCode string `json:"country_code"`
}

func (s *Source) Lookup(ctx context.Context, ip net.IP) (enrich.Lookup, model.CacheStatus, error) {
	url := fmt.Sprintf("%s/ip/%s", s.baseURL, ip.String())

	result, err := backoff.Retry(ctx, func() (rdapResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return rdapResponse{}, backoff.Permanent(fmt.Errorf("build whois request: %w", err))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return rdapResponse{}, fmt.Errorf("whois request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return rdapResponse{}, backoff.Permanent(errRateLimited)
		}
		if resp.StatusCode == http.StatusNotFound {
			return rdapResponse{}, backoff.Permanent(errNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return rdapResponse{}, fmt.Errorf("whois gateway returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return rdapResponse{}, fmt.Errorf("read whois response: %w", err)
		}
		var out rdapResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return rdapResponse{}, backoff.Permanent(fmt.Errorf("decode whois response: %w", err))
		}
		return out, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(s.retries)))

	switch {
	case err == nil:
		var lookup enrich.Lookup
		lookup.CountryCode = result.CountryCode
		if result.ASNNumber != 0 {
			asn := result.ASNNumber
			lookup.ASNNumber = &asn
			lookup.ASNOrg = result.ASNOrg
		}
		return lookup, model.StatusSuccess, nil
	case errors.Is(err, errNotFound):
		return enrich.Lookup{}, model.StatusNotFound, nil
	case errors.Is(err, errRateLimited):
		return enrich.Lookup{}, model.StatusRateLimited, errRateLimited
	default:
		return enrich.Lookup{}, model.StatusError, fmt.Errorf("whois lookup for %s: %w", ip, err)
	}
}

var (
	errNotFound    = errors.New("whois: not found")
	errRateLimited = errors.New("whois: rate limited")
)
