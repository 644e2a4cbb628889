package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Get implements CacheRepo, the L2 tier (spec.md §4.F).
func (p *PG) Get(ctx context.Context, service, keyHash string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	err := p.pool.QueryRow(ctx, `
		SELECT id, service, cache_key, cache_key_hash, payload, response_status,
			created_at, accessed_at, expires_at, api_latency_ms, hit_count
		FROM enrichment_cache WHERE service = $1 AND cache_key_hash = $2`, service, keyHash).Scan(
		&e.ID, &e.Service, &e.Key, &e.KeyHash, &e.Payload, &e.Status,
		&e.CreatedAt, &e.AccessedAt, &e.ExpiresAt, &e.APILatencyMS, &e.HitCount,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry %s/%s: %w", service, keyHash, err)
	}
	return &e, nil
}

// Put implements CacheRepo, overwriting any existing entry for the same
// (service, cache_key_hash) pair — the cascade always writes the freshest
// lookup result (spec.md §4.F).
func (p *PG) Put(ctx context.Context, entry model.CacheEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO enrichment_cache
			(service, cache_key, cache_key_hash, payload, response_status,
			 created_at, accessed_at, expires_at, api_latency_ms, hit_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0)
		ON CONFLICT (service, cache_key_hash) DO UPDATE SET
			cache_key = EXCLUDED.cache_key,
			payload = EXCLUDED.payload,
			response_status = EXCLUDED.response_status,
			created_at = EXCLUDED.created_at,
			accessed_at = EXCLUDED.accessed_at,
			expires_at = EXCLUDED.expires_at,
			api_latency_ms = EXCLUDED.api_latency_ms`,
		entry.Service, entry.Key, entry.KeyHash, entry.Payload, entry.Status,
		entry.CreatedAt, entry.AccessedAt, entry.ExpiresAt, entry.APILatencyMS,
	)
	if err != nil {
		return fmt.Errorf("put cache entry %s/%s: %w", entry.Service, entry.KeyHash, err)
	}
	return nil
}

// TouchHit implements CacheRepo.
func (p *PG) TouchHit(ctx context.Context, service, keyHash string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE enrichment_cache SET accessed_at = $3, hit_count = hit_count + 1
		WHERE service = $1 AND cache_key_hash = $2`, service, keyHash, at)
	if err != nil {
		return fmt.Errorf("touch cache hit %s/%s: %w", service, keyHash, err)
	}
	return nil
}

// DeleteExpired implements CacheRepo, capping each pass at limit rows so a
// sweep never holds a long-running delete against a large table (spec.md
// §4.F eviction).
func (p *PG) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM enrichment_cache WHERE id IN (
			SELECT id FROM enrichment_cache WHERE expires_at < $1 ORDER BY expires_at LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
