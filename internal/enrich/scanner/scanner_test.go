package scanner

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
)

func TestSource_Lookup_MatchesKnownRange(t *testing.T) {
	s, err := New(nil, []Range{
		{CIDR: "198.20.0.0/16", Type: model.IPTypeDatacenter, Source: "shodan"},
	}, 0)
	require.NoError(t, err)

	lookup, status, err := s.Lookup(context.Background(), net.ParseIP("198.20.69.74"))
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, status)
	require.Equal(t, model.IPTypeDatacenter, lookup.IPType)
}

func TestSource_Lookup_NoMatch(t *testing.T) {
	s, err := New(nil, []Range{
		{CIDR: "198.20.0.0/16", Type: model.IPTypeDatacenter, Source: "shodan"},
	}, 0)
	require.NoError(t, err)

	_, status, err := s.Lookup(context.Background(), net.ParseIP("8.8.8.8"))
	require.NoError(t, err)
	require.Equal(t, model.StatusNotFound, status)
}

func TestNew_RejectsInvalidCIDR(t *testing.T) {
	_, err := New(nil, []Range{{CIDR: "not-a-cidr"}}, 0)
	require.Error(t, err)
}
