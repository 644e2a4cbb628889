// Package deltaload implements the Delta Loader (spec.md §4.J): behaviorally
// identical to the Bulk Loader except it resumes each file from its last
// committed checkpoint offset, and detects file rotation by inode change or
// a size decrease, resetting the offset to 0 in either case.
//
// Grounded on the teacher's has-no-direct-precedent "resume from stored
// cursor" shape adapted from
// lake/pkg/indexer/dz/serviceability/store.go's "last processed slot"
// bookkeeping pattern (a single persisted cursor consulted before each
// poll), generalized from one global slot to one cursor per (phase,
// source).
package deltaload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/cowrieproc/ingestcore/internal/bulkload"
	"github.com/cowrieproc/ingestcore/internal/store"
)

// Config configures a Runner. Loader does the actual parsing/committing;
// Checkpoints supplies the per-(phase,source) resume cursor.
type Config struct {
	Loader      *bulkload.Loader
	Phase       string
	Checkpoints store.CheckpointRepo
	Log         *slog.Logger
}

func (c *Config) Validate() error {
	if c.Loader == nil {
		return fmt.Errorf("deltaload: Loader is required")
	}
	if c.Phase == "" {
		c.Phase = "delta_ingest"
	}
	if c.Checkpoints == nil {
		return fmt.Errorf("deltaload: Checkpoints is required")
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}

// Runner resumes bulk ingestion from each file's last checkpoint (spec.md
// §4.J).
type Runner struct {
	cfg Config
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg}, nil
}

// Run resolves a resume offset for each path (0 on first sight or on
// detected rotation) and delegates to the wrapped bulkload.Loader.
func (r *Runner) Run(ctx context.Context, paths []string) (bulkload.Summary, error) {
	sources := make([]bulkload.Source, 0, len(paths))
	for _, path := range paths {
		start, err := r.resumeOffset(ctx, path)
		if err != nil {
			return bulkload.Summary{}, err
		}
		sources = append(sources, bulkload.Source{Path: path, StartOffset: start})
	}
	return r.cfg.Loader.Run(ctx, sources)
}

// resumeOffset implements spec.md §4.J's rotation rule: "File rotation is
// detected when inode changes for the same path; the offset resets to 0. A
// file whose size decreases is assumed truncated/rotated."
func (r *Runner) resumeOffset(ctx context.Context, path string) (int64, error) {
	cp, found, err := r.cfg.Checkpoints.Get(ctx, r.cfg.Phase, path)
	if err != nil {
		return 0, fmt.Errorf("deltaload: load checkpoint for %s: %w", path, err)
	}
	if !found {
		return 0, nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("deltaload: stat %s: %w", path, err)
	}
	inode := currentInode(fi)

	if inode != cp.SourceInode {
		r.cfg.Log.Info("deltaload: inode changed, resuming from 0", "path", path, "prior_inode", cp.SourceInode, "current_inode", inode)
		return 0, nil
	}
	if fi.Size() < cp.SourceOffset {
		r.cfg.Log.Info("deltaload: file shrank, treating as rotated", "path", path, "checkpoint_offset", cp.SourceOffset, "current_size", fi.Size())
		return 0, nil
	}
	return cp.SourceOffset, nil
}

// currentInode mirrors bulkload's platform inode surrogate so rotation
// comparisons use the same identity scheme that produced the stored
// checkpoint's source_inode.
func currentInode(fi os.FileInfo) string {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d", st.Ino)
	}
	return fmt.Sprintf("surrogate-%d-%d", fi.Size(), fi.ModTime().UnixNano())
}
