package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/cowrieproc/ingestcore/internal/store"
)

type memSessions struct {
	missing []store.SessionSnapshotTarget
	sealed  map[string]bool
}

func (m *memSessions) UpsertDeltas(ctx context.Context, deltas []model.SessionDelta) error { return nil }
func (m *memSessions) Get(ctx context.Context, sessionID string) (*model.SessionSummary, error) {
	return nil, nil
}
func (m *memSessions) SealSnapshot(ctx context.Context, sessionID string, asn *int64, country, ipType *string, at time.Time) error {
	if m.sealed == nil {
		m.sealed = map[string]bool{}
	}
	m.sealed[sessionID] = true
	return nil
}
func (m *memSessions) SessionsMissingSnapshot(ctx context.Context, limit int) ([]store.SessionSnapshotTarget, error) {
	var remaining []store.SessionSnapshotTarget
	for _, t := range m.missing {
		if !m.sealed[t.SessionID] {
			remaining = append(remaining, t)
		}
	}
	if len(remaining) > limit {
		remaining = remaining[:limit]
	}
	return remaining, nil
}

type memInventory struct {
	data map[string]model.IPInventory
}

func (m *memInventory) Get(ctx context.Context, ip string) (*model.IPInventory, error) {
	if e, ok := m.data[ip]; ok {
		return &e, nil
	}
	return nil, nil
}
func (m *memInventory) UpsertLocked(ctx context.Context, ip string, fn func(*model.IPInventory) (*model.IPInventory, error)) error {
	return nil
}
func (m *memInventory) BatchGet(ctx context.Context, ips []string) (map[string]model.IPInventory, error) {
	out := make(map[string]model.IPInventory)
	for _, ip := range ips {
		if e, ok := m.data[ip]; ok {
			out[ip] = e
		}
	}
	return out, nil
}

func (m *memInventory) ListForRefresh(ctx context.Context, staleOnly bool, staleBefore time.Time, limit int) ([]string, error) {
	return nil, nil
}

func TestBuilder_RunOnceSealsKnownIPsAndCountsMissed(t *testing.T) {
	sessions := &memSessions{missing: []store.SessionSnapshotTarget{
		{SessionID: "s1", SourceIP: "1.2.3.4"},
		{SessionID: "s2", SourceIP: "9.9.9.9"}, // no inventory row
	}}
	asn := int64(64500)
	inventory := &memInventory{data: map[string]model.IPInventory{
		"1.2.3.4": {IPAddress: "1.2.3.4", CountryCode: "US", ASNNumber: &asn, IPType: model.IPTypeDatacenter},
	}}
	b, err := New(Config{Sessions: sessions, Inventory: inventory, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	res, err := b.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Sealed)
	require.Equal(t, 1, res.Missed)
	require.True(t, sessions.sealed["s1"])
	require.False(t, sessions.sealed["s2"])
}

func TestBuilder_RunToCompletionStopsWhenNoProgress(t *testing.T) {
	sessions := &memSessions{missing: []store.SessionSnapshotTarget{
		{SessionID: "s1", SourceIP: "no-such-ip"},
	}}
	inventory := &memInventory{data: map[string]model.IPInventory{}}
	b, err := New(Config{Sessions: sessions, Inventory: inventory, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = b.RunToCompletion(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunToCompletion looped forever on a permanently-missed session")
	}
}
