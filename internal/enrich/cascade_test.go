package enrich

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
)

type fakeSource struct {
	name   string
	lookup Lookup
	status model.CacheStatus
	err    error
	calls  int
}

func (f *fakeSource) Name() string       { return f.name }
func (f *fakeSource) TTL() time.Duration { return time.Hour }
func (f *fakeSource) Lookup(ctx context.Context, ip net.IP) (Lookup, model.CacheStatus, error) {
	f.calls++
	return f.lookup, f.status, f.err
}

type memIPRepo struct {
	mu   sync.Mutex
	data map[string]model.IPInventory
}

func newMemIPRepo() *memIPRepo { return &memIPRepo{data: map[string]model.IPInventory{}} }

func (m *memIPRepo) Get(ctx context.Context, ip string) (*model.IPInventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ip]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memIPRepo) UpsertLocked(ctx context.Context, ip string, fn func(*model.IPInventory) (*model.IPInventory, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current *model.IPInventory
	if v, ok := m.data[ip]; ok {
		current = &v
	}
	merged, err := fn(current)
	if err != nil {
		return err
	}
	if merged != nil {
		m.data[ip] = *merged
	}
	return nil
}

func (m *memIPRepo) BatchGet(ctx context.Context, ips []string) (map[string]model.IPInventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]model.IPInventory{}
	for _, ip := range ips {
		if v, ok := m.data[ip]; ok {
			out[ip] = v
		}
	}
	return out, nil
}

func (m *memIPRepo) ListForRefresh(ctx context.Context, staleOnly bool, staleBefore time.Time, limit int) ([]string, error) {
	return nil, nil
}

type memASNRepo struct {
	mu   sync.Mutex
	data map[int64]model.ASNInventory
}

func newMemASNRepo() *memASNRepo { return &memASNRepo{data: map[int64]model.ASNInventory{}} }

func (m *memASNRepo) EnsureLocked(ctx context.Context, asn int64, fn func(*model.ASNInventory) (*model.ASNInventory, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current *model.ASNInventory
	if v, ok := m.data[asn]; ok {
		current = &v
	}
	merged, err := fn(current)
	if err != nil {
		return err
	}
	if merged != nil {
		m.data[asn] = *merged
	}
	return nil
}

func TestCascade_FirstSourceWinsCountryAndASN(t *testing.T) {
	asn := int64(64500)
	first := &fakeSource{name: "geodb", lookup: Lookup{CountryCode: "US", ASNNumber: &asn, ASNOrg: "Example Net"}, status: model.StatusSuccess}
	second := &fakeSource{name: "whois", lookup: Lookup{CountryCode: "DE"}, status: model.StatusSuccess}

	ipRepo := newMemIPRepo()
	asnRepo := newMemASNRepo()
	c, err := New(Config{
		Sources: []Source{first, second},
		IPRepo:  ipRepo,
		ASNRepo: asnRepo,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	result, err := c.Enrich(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	require.False(t, result.Sentinel)
	require.Equal(t, "US", result.IP.CountryCode, "first source's country must win even though second source is still consulted for the still-unset ip_type field")

	stored, err := ipRepo.Get(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, "US", stored.CountryCode)
	require.Equal(t, asn, *stored.ASNNumber)
}

func TestCascade_EarlyTerminatesOnceEveryFieldIsAnswered(t *testing.T) {
	asn := int64(64500)
	first := &fakeSource{
		name: "geodb",
		lookup: Lookup{
			CountryCode: "US", ASNNumber: &asn, ASNOrg: "Example Net",
			IPType: model.IPTypeDatacenter, Confidence: 5,
		},
		status: model.StatusSuccess,
	}
	second := &fakeSource{name: "whois", lookup: Lookup{CountryCode: "DE"}, status: model.StatusSuccess}

	c, err := New(Config{
		Sources: []Source{first, second},
		IPRepo:  newMemIPRepo(),
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	_, err = c.Enrich(context.Background(), "203.0.113.20")
	require.NoError(t, err)
	require.Equal(t, 0, second.calls, "cascade must stop once every field has an answer")
}

func TestCascade_FallsThroughWhenFirstSourceHasNoAnswer(t *testing.T) {
	first := &fakeSource{name: "geodb", status: model.StatusNotFound}
	second := &fakeSource{name: "whois", lookup: Lookup{CountryCode: "DE"}, status: model.StatusSuccess}

	ipRepo := newMemIPRepo()
	c, err := New(Config{
		Sources: []Source{first, second},
		IPRepo:  ipRepo,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	result, err := c.Enrich(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	require.Equal(t, "DE", result.IP.CountryCode)
	require.Equal(t, 1, second.calls)
}

func TestCascade_SentinelWhenNoSourceAnswers(t *testing.T) {
	first := &fakeSource{name: "geodb", status: model.StatusNotFound}
	second := &fakeSource{name: "whois", status: model.StatusNotFound}

	c, err := New(Config{
		Sources: []Source{first, second},
		IPRepo:  newMemIPRepo(),
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	result, err := c.Enrich(context.Background(), "203.0.113.11")
	require.NoError(t, err)
	require.True(t, result.Sentinel)
}

func TestCascade_SourceErrorDoesNotAbortRemainingSources(t *testing.T) {
	first := &fakeSource{name: "geodb", status: model.StatusError, err: net.InvalidAddrError("boom")}
	second := &fakeSource{name: "whois", lookup: Lookup{CountryCode: "FR"}, status: model.StatusSuccess}

	c, err := New(Config{
		Sources: []Source{first, second},
		IPRepo:  newMemIPRepo(),
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	result, err := c.Enrich(context.Background(), "203.0.113.12")
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "FR", result.IP.CountryCode)
}
