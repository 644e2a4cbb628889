package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/cache"
	"github.com/cowrieproc/ingestcore/internal/enrich"
	"github.com/cowrieproc/ingestcore/internal/enrich/geodb"
	"github.com/cowrieproc/ingestcore/internal/enrich/scanner"
	"github.com/cowrieproc/ingestcore/internal/enrich/whois"
	"github.com/cowrieproc/ingestcore/internal/ratelimit"
	"github.com/cowrieproc/ingestcore/internal/store"
)

var (
	staleOnly    bool
	staleAfter   time.Duration
	geoipCityDB  string
	geoipASNDB   string
	whoisBaseURL string
	refreshLimit int
)

// defaultStaleAfter matches the offline geo/ASN DB's weekly refresh cadence
// (spec.md §4.F TTL table "geo/ASN offline DB... refresh weekly").
const defaultStaleAfter = 7 * 24 * time.Hour

var enrichRefreshCmd = &cobra.Command{
	Use:   "enrich-refresh",
	Short: "Re-run the enrichment cascade over known IPs (spec.md §4.H)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pg := store.NewPG(env.DB, log)

		tiered, err := cache.New(cache.Config{L3Root: env.CacheDir, Log: log, Clock: env.Clock}, pg)
		if err != nil {
			return fmt.Errorf("create tiered cache: %w", err)
		}

		var sources []enrich.Source
		if geoipCityDB != "" || geoipASNDB != "" {
			geo, err := geodb.Open(log, geoipCityDB, geoipASNDB, 0)
			if err != nil {
				return fmt.Errorf("open geoip db: %w", err)
			}
			sources = append(sources, geo)
		}
		if whoisBaseURL != "" {
			w, err := whois.New(whois.Config{BaseURL: whoisBaseURL, Log: log})
			if err != nil {
				return fmt.Errorf("create whois source: %w", err)
			}
			sources = append(sources, w)
		}
		// scanner is the cascade's last-resort ip_type classifier (spec.md
		// §4.H); it always participates, even with an empty range table,
		// since it costs nothing when it doesn't match.
		scan, err := scanner.New(log, nil, 7*24*time.Hour)
		if err != nil {
			return fmt.Errorf("create scanner source: %w", err)
		}
		sources = append(sources, scan)

		cascade, err := enrich.New(enrich.Config{
			Sources: sources,
			Cache:   tiered,
			Limiter: ratelimit.New(log, env.Clock),
			IPRepo:  pg,
			ASNRepo: pg,
			Log:     log,
			Clock:   env.Clock,
		})
		if err != nil {
			return err
		}

		ips, err := pg.ListForRefresh(ctx, staleOnly, env.Clock.Now().Add(-staleAfter), refreshLimit)
		if err != nil {
			return transientErr(fmt.Errorf("list ips for refresh: %w", err))
		}

		var refreshed, failed int
		for _, ip := range ips {
			if ctx.Err() != nil {
				break
			}
			if _, err := cascade.Enrich(ctx, ip); err != nil {
				log.Warn("enrich-refresh: lookup failed", "ip", ip, "error", err)
				failed++
				continue
			}
			refreshed++
		}

		log.Info("enrich-refresh complete", "candidates", len(ips), "refreshed", refreshed, "failed", failed, "stale_only", staleOnly)
		if refreshed == 0 && failed > 0 {
			return transientErr(fmt.Errorf("enrich-refresh made no progress: %d candidates all failed", failed))
		}
		return nil
	},
}

func init() {
	enrichRefreshCmd.Flags().BoolVar(&staleOnly, "stale-only", false, "Only refresh IPs whose enrichment is older than --stale-after")
	enrichRefreshCmd.Flags().DurationVar(&staleAfter, "stale-after", defaultStaleAfter, "Age threshold for --stale-only")
	enrichRefreshCmd.Flags().IntVar(&refreshLimit, "limit", 10000, "Maximum number of IPs to refresh in one run")
	enrichRefreshCmd.Flags().StringVar(&geoipCityDB, "geoip-city-db", os.Getenv("INGESTCORE_GEOIP_CITY_DB"), "Path to MaxMind City mmdb (env: INGESTCORE_GEOIP_CITY_DB)")
	enrichRefreshCmd.Flags().StringVar(&geoipASNDB, "geoip-asn-db", os.Getenv("INGESTCORE_GEOIP_ASN_DB"), "Path to MaxMind ASN mmdb (env: INGESTCORE_GEOIP_ASN_DB)")
	enrichRefreshCmd.Flags().StringVar(&whoisBaseURL, "whois-base-url", os.Getenv("INGESTCORE_WHOIS_BASE_URL"), "Base URL of an RDAP-compatible whois gateway (env: INGESTCORE_WHOIS_BASE_URL)")
}
