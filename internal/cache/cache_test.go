package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
)

func TestTieredCache_L1Hit(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, err := New(Config{L3Root: t.TempDir(), Clock: clk}, nil)
	require.NoError(t, err)

	entry := model.CacheEntry{
		Service:   "geoip",
		Key:       "1.2.3.4",
		KeyHash:   KeyHash("geoip", "1.2.3.4"),
		Payload:   []byte(`{"country":"US"}`),
		Status:    model.StatusSuccess,
		CreatedAt: clk.Now(),
		ExpiresAt: clk.Now().Add(time.Hour),
	}
	c.Put(context.Background(), entry)

	got, ok := c.Get(context.Background(), "geoip", "1.2.3.4")
	require.True(t, ok)
	require.Equal(t, entry.Payload, got.Payload)
}

func TestTieredCache_L3SurvivesL1Eviction(t *testing.T) {
	clk := clockwork.NewFakeClock()
	root := t.TempDir()
	c, err := New(Config{L3Root: root, Clock: clk}, nil)
	require.NoError(t, err)

	entry := model.CacheEntry{
		Service:   "whois",
		Key:       "5.6.7.8",
		KeyHash:   KeyHash("whois", "5.6.7.8"),
		Payload:   []byte(`{"asn":64500}`),
		Status:    model.StatusSuccess,
		CreatedAt: clk.Now(),
		ExpiresAt: clk.Now().Add(time.Hour),
	}
	c.Put(context.Background(), entry)

	c.l1.delete(entry.Service, entry.KeyHash)

	got, ok := c.Get(context.Background(), "whois", "5.6.7.8")
	require.True(t, ok)
	require.Equal(t, entry.Payload, got.Payload)
}

func TestTieredCache_ExpiredEntryIsMiss(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, err := New(Config{L3Root: t.TempDir(), Clock: clk}, nil)
	require.NoError(t, err)

	entry := model.CacheEntry{
		Service:   "scanner",
		Key:       "9.9.9.9",
		KeyHash:   KeyHash("scanner", "9.9.9.9"),
		Payload:   []byte(`{}`),
		Status:    model.StatusSuccess,
		CreatedAt: clk.Now(),
		ExpiresAt: clk.Now().Add(time.Minute),
	}
	c.Put(context.Background(), entry)

	clk.Advance(2 * time.Minute)
	_, ok := c.Get(context.Background(), "scanner", "9.9.9.9")
	require.False(t, ok)
}
