package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// Upsert implements FileArtifactRepo, set-unioning url_samples the same way
// model.SessionSummary.AddSourceFile does for source files (spec.md §3
// FileArtifact).
func (p *PG) Upsert(ctx context.Context, f model.FileArtifact) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO file_artifacts (sha256, first_seen, last_seen, size, url_samples)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sha256) DO UPDATE SET
			last_seen = GREATEST(file_artifacts.last_seen, EXCLUDED.last_seen),
			size = EXCLUDED.size,
			url_samples = (
				SELECT array_agg(DISTINCT u) FROM unnest(
					file_artifacts.url_samples || EXCLUDED.url_samples
				) AS u
			)`,
		f.SHA256, f.FirstSeen, f.LastSeen, f.Size, f.URLSamples,
	)
	if err != nil {
		return fmt.Errorf("upsert file artifact %s: %w", f.SHA256, err)
	}
	return nil
}

// MarkVTFlagged implements FileArtifactRepo, recording a VirusTotal (or
// similar) classification result against an already-seen file.
func (p *PG) MarkVTFlagged(ctx context.Context, sha256 string, analysis map[string]any, flagged bool) error {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal vt analysis for %s: %w", sha256, err)
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE file_artifacts SET vt_analysis = $2, vt_flagged = $3 WHERE sha256 = $1`,
		sha256, analysisJSON, flagged)
	if err != nil {
		return fmt.Errorf("mark file %s vt flagged: %w", sha256, err)
	}
	return nil
}
