package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/store"
)

type memDLQ struct {
	rows      []model.DeadLetterEvent
	promoted  map[int64]bool
	retried   map[int64]int
}

func (m *memDLQ) Insert(ctx context.Context, ev model.DeadLetterEvent) (int64, error) {
	ev.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, ev)
	return ev.ID, nil
}
func (m *memDLQ) CountByReason(ctx context.Context) (map[model.DeadLetterReason]int64, error) {
	return nil, nil
}
func (m *memDLQ) ForRepair(ctx context.Context, limit int) ([]model.DeadLetterEvent, error) {
	var out []model.DeadLetterEvent
	for _, r := range m.rows {
		if m.promoted[r.ID] {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (m *memDLQ) IncrementRetry(ctx context.Context, id int64, at time.Time) error {
	if m.retried == nil {
		m.retried = map[int64]int{}
	}
	m.retried[id]++
	return nil
}
func (m *memDLQ) Promote(ctx context.Context, id int64) error {
	if m.promoted == nil {
		m.promoted = map[int64]bool{}
	}
	m.promoted[id] = true
	return nil
}

type memRawEvents struct {
	inserted []model.RawEvent
}

func (m *memRawEvents) InsertBatch(ctx context.Context, events []model.RawEvent) ([]bool, error) {
	ok := make([]bool, len(events))
	for i, ev := range events {
		m.inserted = append(m.inserted, ev)
		ok[i] = true
	}
	return ok, nil
}
func (m *memRawEvents) CountBySource(ctx context.Context, source string) (int64, error) { return 0, nil }

type memSessions struct {
	deltas []model.SessionDelta
}

func (m *memSessions) UpsertDeltas(ctx context.Context, deltas []model.SessionDelta) error {
	m.deltas = append(m.deltas, deltas...)
	return nil
}
func (m *memSessions) Get(ctx context.Context, sessionID string) (*model.SessionSummary, error) {
	return nil, nil
}
func (m *memSessions) SealSnapshot(ctx context.Context, sessionID string, asn *int64, country, ipType *string, at time.Time) error {
	return nil
}
func (m *memSessions) SessionsMissingSnapshot(ctx context.Context, limit int) ([]store.SessionSnapshotTarget, error) {
	return nil, nil
}

func TestRepairer_DirectReparseSucceeds(t *testing.T) {
	dlq := &memDLQ{}
	id, err := dlq.Insert(context.Background(), model.DeadLetterEvent{
		Source: "a.json", SourceOffset: 10, Reason: model.ReasonParse,
		Payload: []byte(`{"eventid":"cowrie.session.connect","session":"s1","timestamp":"2024-01-01T00:00:00Z","src_ip":"1.2.3.4"}`),
	})
	require.NoError(t, err)

	raw := &memRawEvents{}
	sess := &memSessions{}
	r, err := New(Config{DeadLetter: dlq, RawEvents: raw, Sessions: sess, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	report, err := r.RunRepairPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Attempted)
	require.Equal(t, 1, report.Promoted)
	require.Len(t, raw.inserted, 1)
	require.True(t, dlq.promoted[id])
}

func TestRepairer_UnparseableRowIsRetried(t *testing.T) {
	dlq := &memDLQ{}
	_, err := dlq.Insert(context.Background(), model.DeadLetterEvent{
		Source: "a.json", SourceOffset: 10, Reason: model.ReasonParse,
		Payload: []byte(`still not json`),
	})
	require.NoError(t, err)

	raw := &memRawEvents{}
	sess := &memSessions{}
	r, err := New(Config{DeadLetter: dlq, RawEvents: raw, Sessions: sess, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	report, err := r.RunRepairPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Attempted)
	require.Equal(t, 0, report.Promoted)
	require.Equal(t, 1, report.Retried)
	require.Empty(t, raw.inserted)
}

func TestRepairer_StitchesAdjacentFragments(t *testing.T) {
	dlq := &memDLQ{}
	_, err := dlq.Insert(context.Background(), model.DeadLetterEvent{
		Source: "a.json", SourceOffset: 10, Reason: model.ReasonParse,
		Payload: []byte(`{"eventid":"cowrie.session.connect",`),
	})
	require.NoError(t, err)
	_, err = dlq.Insert(context.Background(), model.DeadLetterEvent{
		Source: "a.json", SourceOffset: 50, Reason: model.ReasonParse,
		Payload: []byte(`"session":"s1","timestamp":"2024-01-01T00:00:00Z","src_ip":"1.2.3.4"}`),
	})
	require.NoError(t, err)

	raw := &memRawEvents{}
	sess := &memSessions{}
	r, err := New(Config{DeadLetter: dlq, RawEvents: raw, Sessions: sess, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	report, err := r.RunRepairPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Promoted)
	require.Len(t, raw.inserted, 1)
	require.Len(t, dlq.promoted, 2)
}
