package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Upsert implements PasswordRepo. Cleartext is stored only when
// policy.Retain is set, honoring the resolved Open Question on
// password_text retention (spec.md §9, model.PasswordPolicy).
func (p *PG) Upsert(ctx context.Context, pw model.PasswordTracking, sessionID, username string, policy model.PasswordPolicy) error {
	var cleartext any
	if policy.Retain && pw.Cleartext != nil {
		cleartext = *pw.Cleartext
	}
	return p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		_, err := exec.Exec(ctx, `
			INSERT INTO password_tracking (password_hash, password_text, first_seen, last_seen, times_seen, unique_sessions)
			VALUES ($1,$2,$3,$4,1,1)
			ON CONFLICT (password_hash) DO UPDATE SET
				last_seen = GREATEST(password_tracking.last_seen, EXCLUDED.last_seen),
				times_seen = password_tracking.times_seen + 1,
				password_text = CASE WHEN $2 IS NOT NULL THEN $2 ELSE password_tracking.password_text END`,
			pw.PasswordHash, cleartext, pw.FirstSeen, pw.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("upsert password %s: %w", pw.PasswordHash, err)
		}

		tag, err := exec.Exec(ctx, `
			INSERT INTO password_sessions (password_hash, session_id, username, seen_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (password_hash, session_id) DO NOTHING`,
			pw.PasswordHash, sessionID, username, pw.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("link password %s to session %s: %w", pw.PasswordHash, sessionID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := exec.Exec(ctx, `
			UPDATE password_tracking SET
				unique_sessions = (SELECT count(*) FROM password_sessions WHERE password_hash = $1)
			WHERE password_hash = $1`, pw.PasswordHash); err != nil {
			return fmt.Errorf("refresh password %s session count: %w", pw.PasswordHash, err)
		}
		return nil
	})
}

// MarkBreachChecked implements PasswordRepo, recording the outcome of an
// on-demand breach-database lookup (spec.md §4.H enrichment sources extend
// to credential intelligence, not only IP facts).
func (p *PG) MarkBreachChecked(ctx context.Context, passwordHash string, breached bool, prevalence int, checkedAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE password_tracking SET breached = $2, breach_prevalence = $3, last_breach_check_at = $4
		WHERE password_hash = $1`, passwordHash, breached, prevalence, checkedAt)
	if err != nil {
		return fmt.Errorf("mark password %s breach checked: %w", passwordHash, err)
	}
	return nil
}
