package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cowrieproc/ingestcore/internal/model"
)

func scanIPInventory(row pgx.Row) (*model.IPInventory, error) {
	var ip model.IPInventory
	var provenanceJSON []byte
	err := row.Scan(
		&ip.IPAddress, &ip.CountryCode, &ip.ASNNumber, &ip.ASNOrg, &ip.IPType,
		&ip.FirstSeen, &ip.LastSeen, &ip.EnrichmentTS, &ip.Source, &provenanceJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(provenanceJSON) > 0 {
		if err := json.Unmarshal(provenanceJSON, &ip.Provenance); err != nil {
			return nil, fmt.Errorf("unmarshal ip_inventory provenance: %w", err)
		}
	}
	return &ip, nil
}

const selectIPInventoryCols = `ip_address, country_code, asn_number, asn_org, ip_type,
	first_seen, last_seen, enrichment_ts, source, provenance`

// Get implements IPInventoryRepo.
func (p *PG) Get(ctx context.Context, ip string) (*model.IPInventory, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectIPInventoryCols+` FROM ip_inventory WHERE ip_address = $1`, ip)
	inv, err := scanIPInventory(row)
	if err != nil {
		return nil, fmt.Errorf("get ip_inventory %s: %w", ip, err)
	}
	return inv, nil
}

// BatchGet implements IPInventoryRepo.
func (p *PG) BatchGet(ctx context.Context, ips []string) (map[string]model.IPInventory, error) {
	if len(ips) == 0 {
		return map[string]model.IPInventory{}, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT `+selectIPInventoryCols+` FROM ip_inventory WHERE ip_address = ANY($1)`, ips)
	if err != nil {
		return nil, fmt.Errorf("batch get ip_inventory: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.IPInventory, len(ips))
	for rows.Next() {
		inv, err := scanIPInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ip_inventory row: %w", err)
		}
		if inv != nil {
			out[inv.IPAddress] = *inv
		}
	}
	return out, rows.Err()
}

// UpsertLocked implements IPInventoryRepo's serialized-per-IP merge contract
// (spec.md §5 "serialized per ip_address... using row-level locks"). It
// inserts a placeholder row if absent, re-reads it under SELECT ... FOR
// UPDATE, calls fn to compute the merged value, then writes it back — all
// inside one transaction so concurrent cascades for the same IP block on
// each other rather than racing on a blind UPSERT.
func (p *PG) UpsertLocked(ctx context.Context, ip string, fn func(current *model.IPInventory) (*model.IPInventory, error)) error {
	return p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		_, err := exec.Exec(ctx, `
			INSERT INTO ip_inventory (ip_address, first_seen, last_seen, enrichment_ts)
			VALUES ($1, now(), now(), now())
			ON CONFLICT (ip_address) DO NOTHING`, ip)
		if err != nil {
			return fmt.Errorf("ensure ip_inventory placeholder for %s: %w", ip, err)
		}

		row := exec.QueryRow(ctx, `SELECT `+selectIPInventoryCols+` FROM ip_inventory WHERE ip_address = $1 FOR UPDATE`, ip)
		current, err := scanIPInventory(row)
		if err != nil {
			return fmt.Errorf("lock ip_inventory row %s: %w", ip, err)
		}

		merged, err := fn(current)
		if err != nil {
			return err
		}
		if merged == nil {
			return nil
		}

		provenanceJSON, err := json.Marshal(merged.Provenance)
		if err != nil {
			return fmt.Errorf("marshal ip_inventory provenance for %s: %w", ip, err)
		}
		_, err = exec.Exec(ctx, `
			UPDATE ip_inventory SET
				country_code = $2, asn_number = $3, asn_org = $4, ip_type = $5,
				first_seen = $6, last_seen = $7, enrichment_ts = $8, source = $9, provenance = $10
			WHERE ip_address = $1`,
			ip, merged.CountryCode, merged.ASNNumber, merged.ASNOrg, merged.IPType,
			merged.FirstSeen, merged.LastSeen, merged.EnrichmentTS, merged.Source, provenanceJSON,
		)
		if err != nil {
			return fmt.Errorf("write merged ip_inventory %s: %w", ip, err)
		}
		return nil
	})
}

// ListForRefresh implements IPInventoryRepo. Results are ordered oldest
// enrichment_ts first so a limited refresh run makes progress on the
// staleest rows before a later run is needed.
func (p *PG) ListForRefresh(ctx context.Context, staleOnly bool, staleBefore time.Time, limit int) ([]string, error) {
	query := `SELECT ip_address FROM ip_inventory`
	args := []any{limit}
	if staleOnly {
		query += ` WHERE enrichment_ts < $2`
		args = []any{limit, staleBefore}
	}
	query += ` ORDER BY enrichment_ts ASC LIMIT $1`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ip_inventory for refresh: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan ip_inventory refresh row: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}
