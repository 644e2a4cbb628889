package ratelimit

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AcquireRespectsQuota(t *testing.T) {
	clk := clockwork.NewFakeClock()
	r := New(nil, clk)
	defer r.Close()

	require.NoError(t, r.Configure("whois", Config{RatePerSecond: 1000, Burst: 1000, DailyQuota: 2}))

	require.NoError(t, r.Acquire(context.Background(), "whois"))
	require.NoError(t, r.Acquire(context.Background(), "whois"))
	require.ErrorIs(t, r.Acquire(context.Background(), "whois"), ErrQuotaExceeded)
}

func TestRegistry_UnconfiguredServiceErrors(t *testing.T) {
	r := New(nil, clockwork.NewFakeClock())
	defer r.Close()
	err := r.Acquire(context.Background(), "unknown")
	require.Error(t, err)
}
