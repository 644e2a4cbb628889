package deltaload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/bulkload"
	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/store"
)

type memCheckpoints struct {
	cps map[string]model.Checkpoint
}

func newMemCheckpoints() *memCheckpoints { return &memCheckpoints{cps: map[string]model.Checkpoint{}} }

func (m *memCheckpoints) key(phase, source string) string { return phase + "|" + source }

func (m *memCheckpoints) Get(ctx context.Context, phase, source string) (model.Checkpoint, bool, error) {
	cp, ok := m.cps[m.key(phase, source)]
	return cp, ok, nil
}
func (m *memCheckpoints) Save(ctx context.Context, tx store.Tx, cp model.Checkpoint) error {
	m.cps[m.key(cp.Phase, cp.Source)] = cp
	return nil
}

// memCommitter is a minimal bulkload.Config.Committer double.
type memCommitter struct{ seen map[string]bool }

func newMemCommitter() *memCommitter { return &memCommitter{seen: map[string]bool{}} }

func (m *memCommitter) CommitBatch(ctx context.Context, events []model.RawEvent, deltas []model.SessionDelta, cp model.Checkpoint) ([]bool, error) {
	inserted := make([]bool, len(events))
	for i, ev := range events {
		key := ev.Source + "|" + ev.PayloadHash
		if m.seen[key] {
			continue
		}
		m.seen[key] = true
		inserted[i] = true
	}
	return inserted, nil
}

type memDeadLetter struct{ items []model.DeadLetterEvent }

func (m *memDeadLetter) Insert(ctx context.Context, ev model.DeadLetterEvent) (int64, error) {
	m.items = append(m.items, ev)
	return int64(len(m.items)), nil
}
func (m *memDeadLetter) CountByReason(ctx context.Context) (map[model.DeadLetterReason]int64, error) {
	return nil, nil
}
func (m *memDeadLetter) ForRepair(ctx context.Context, limit int) ([]model.DeadLetterEvent, error) {
	return nil, nil
}
func (m *memDeadLetter) IncrementRetry(ctx context.Context, id int64, at time.Time) error { return nil }
func (m *memDeadLetter) Promote(ctx context.Context, id int64) error                      { return nil }

func TestResumeOffset_ZeroWhenNoCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	cps := newMemCheckpoints()
	loader, err := bulkload.New(bulkload.Config{IngestID: "d1", Committer: newMemCommitter(), DeadLetter: &memDeadLetter{}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	r, err := New(Config{Loader: loader, Checkpoints: cps})
	require.NoError(t, err)

	off, err := r.resumeOffset(context.Background(), path)
	require.NoError(t, err)
	require.Zero(t, off)
}

func TestResumeOffset_ResumesFromStoredCheckpointWhenInodeUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(path, []byte("{}\n{}\n{}\n"), 0o644))

	cps := newMemCheckpoints()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	cps.cps[cps.key("delta_ingest", path)] = model.Checkpoint{
		Phase: "delta_ingest", Source: path, SourceOffset: 4, SourceInode: currentInode(fi),
	}

	loader, err := bulkload.New(bulkload.Config{IngestID: "d1", Committer: newMemCommitter(), DeadLetter: &memDeadLetter{}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	r, err := New(Config{Loader: loader, Checkpoints: cps})
	require.NoError(t, err)

	off, err := r.resumeOffset(context.Background(), path)
	require.NoError(t, err)
	require.EqualValues(t, 4, off)
}

func TestResumeOffset_ResetsOnSizeDecrease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	cps := newMemCheckpoints()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	cps.cps[cps.key("delta_ingest", path)] = model.Checkpoint{
		Phase: "delta_ingest", Source: path, SourceOffset: 9999, SourceInode: currentInode(fi),
	}

	loader, err := bulkload.New(bulkload.Config{IngestID: "d1", Committer: newMemCommitter(), DeadLetter: &memDeadLetter{}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	r, err := New(Config{Loader: loader, Checkpoints: cps})
	require.NoError(t, err)

	off, err := r.resumeOffset(context.Background(), path)
	require.NoError(t, err)
	require.Zero(t, off)
}
