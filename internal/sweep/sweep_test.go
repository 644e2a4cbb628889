package sweep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/store"
)

type memSweepRepo struct {
	rows    []store.RawEventRow
	updated map[int64]model.Payload
}

func (m *memSweepRepo) ScanPage(ctx context.Context, afterID int64, limit int) ([]store.RawEventRow, error) {
	var out []store.RawEventRow
	for _, r := range m.rows {
		if r.ID > afterID {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memSweepRepo) UpdateSanitizedPayload(ctx context.Context, id int64, payload model.Payload, hash string) error {
	if m.updated == nil {
		m.updated = map[int64]model.Payload{}
	}
	m.updated[id] = payload
	return nil
}

// badEscape is a literal (not-yet-parsed) JSON-escape sequence for a C0
// control code point, the exact pattern spec.md §4.A / §4.M target.
const badEscape = "\\u0007"

func TestSweeper_RunCleansMatchingRows(t *testing.T) {
	repo := &memSweepRepo{rows: []store.RawEventRow{
		{ID: 1, PayloadText: `{"input":"clean"}`, Payload: model.Payload{"input": "clean"}},
		{ID: 2, PayloadText: `{"input":"bad` + badEscape + `"}`, Payload: model.Payload{"input": "bad" + badEscape}},
	}}
	s, err := New(Config{Repo: repo})
	require.NoError(t, err)

	report, err := s.Run(context.Background(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, report.RowsScanned)
	require.EqualValues(t, 1, report.RowsMatched)
	require.EqualValues(t, 1, report.RowsCleaned)
	require.Contains(t, repo.updated, int64(2))
	require.NotContains(t, repo.updated, int64(1))
}

func TestSweeper_DryRunDoesNotMutate(t *testing.T) {
	repo := &memSweepRepo{rows: []store.RawEventRow{
		{ID: 1, PayloadText: `{"input":"bad` + badEscape + `"}`, Payload: model.Payload{"input": "bad" + badEscape}},
	}}
	s, err := New(Config{Repo: repo, DryRun: true})
	require.NoError(t, err)

	report, err := s.Run(context.Background(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, report.RowsMatched)
	require.EqualValues(t, 0, report.RowsCleaned)
	require.Empty(t, repo.updated)
}

func TestSweeper_ResumesFromLastID(t *testing.T) {
	repo := &memSweepRepo{rows: []store.RawEventRow{
		{ID: 1, PayloadText: `{"input":"bad"}`},
		{ID: 2, PayloadText: `{"input":"bad"}`},
	}}
	s, err := New(Config{Repo: repo})
	require.NoError(t, err)

	report, err := s.Run(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, report.RowsScanned)
	require.EqualValues(t, 2, report.LastID)
}
