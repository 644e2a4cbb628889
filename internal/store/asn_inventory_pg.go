package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// EnsureLocked implements ASNInventoryRepo, mirroring UpsertLocked's
// placeholder-insert-then-lock-then-merge shape (spec.md §5).
func (p *PG) EnsureLocked(ctx context.Context, asn int64, fn func(current *model.ASNInventory) (*model.ASNInventory, error)) error {
	return p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		_, err := exec.Exec(ctx, `
			INSERT INTO asn_inventory (asn_number, first_seen, last_seen)
			VALUES ($1, now(), now())
			ON CONFLICT (asn_number) DO NOTHING`, asn)
		if err != nil {
			return fmt.Errorf("ensure asn_inventory placeholder for %d: %w", asn, err)
		}

		var cur model.ASNInventory
		err = exec.QueryRow(ctx, `
			SELECT asn_number, asn_org, country_hint, first_seen, last_seen
			FROM asn_inventory WHERE asn_number = $1 FOR UPDATE`, asn).Scan(
			&cur.ASNNumber, &cur.ASNOrg, &cur.CountryHint, &cur.FirstSeen, &cur.LastSeen,
		)
		if err != nil && err != pgx.ErrNoRows {
			return fmt.Errorf("lock asn_inventory row %d: %w", asn, err)
		}

		merged, err := fn(&cur)
		if err != nil {
			return err
		}
		if merged == nil {
			return nil
		}

		_, err = exec.Exec(ctx, `
			UPDATE asn_inventory SET asn_org = $2, country_hint = $3, first_seen = $4, last_seen = $5
			WHERE asn_number = $1`,
			asn, merged.ASNOrg, merged.CountryHint, merged.FirstSeen, merged.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("write merged asn_inventory %d: %w", asn, err)
		}
		return nil
	})
}
