package store

import (
	"context"
	"fmt"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Upsert implements SSHKeyRepo: advances the aggregate row and records the
// session/source-ip linkage in one transaction (spec.md §3
// SSHKeyIntelligence).
func (p *PG) Upsert(ctx context.Context, key model.SSHKeyIntelligence, sessionID, sourceIP string) error {
	return p.withTx(ctx, func(ctx context.Context, exec pgxExecer) error {
		_, err := exec.Exec(ctx, `
			INSERT INTO ssh_key_intelligence
				(key_type, key_data, key_fingerprint, key_hash, key_comment,
				 first_seen, last_seen, total_attempts, unique_sources, unique_sessions, key_bits)
			VALUES ($1,$2,$3,$4,$5,$6,$7,1,1,1,$8)
			ON CONFLICT (key_fingerprint) DO UPDATE SET
				last_seen = GREATEST(ssh_key_intelligence.last_seen, EXCLUDED.last_seen),
				total_attempts = ssh_key_intelligence.total_attempts + 1`,
			key.KeyType, key.KeyData, key.KeyFingerprint, key.KeyHash, key.KeyComment,
			key.FirstSeen, key.LastSeen, key.KeyBits,
		)
		if err != nil {
			return fmt.Errorf("upsert ssh key %s: %w", key.KeyFingerprint, err)
		}

		tag, err := exec.Exec(ctx, `
			INSERT INTO ssh_key_sessions (key_fingerprint, session_id, source_ip, seen_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (key_fingerprint, session_id) DO NOTHING`,
			key.KeyFingerprint, sessionID, sourceIP, key.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("link ssh key %s to session %s: %w", key.KeyFingerprint, sessionID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := exec.Exec(ctx, `
			UPDATE ssh_key_intelligence SET
				unique_sessions = (SELECT count(*) FROM ssh_key_sessions WHERE key_fingerprint = $1),
				unique_sources = (SELECT count(DISTINCT source_ip) FROM ssh_key_sessions WHERE key_fingerprint = $1 AND source_ip <> '')
			WHERE key_fingerprint = $1`, key.KeyFingerprint); err != nil {
			return fmt.Errorf("refresh ssh key %s uniqueness counts: %w", key.KeyFingerprint, err)
		}
		return nil
	})
}
