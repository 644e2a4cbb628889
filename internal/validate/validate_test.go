package validate

import (
	"testing"

	"github.com/cowrieproc/ingestcore/internal/model"
	"github.com/stretchr/testify/require"
)

func TestEvent_ValidConnect(t *testing.T) {
	p := model.Payload{
		"eventid":   "cowrie.session.connect",
		"timestamp": "2024-01-02T03:04:05.123456Z",
		"session":   "abc123",
		"src_ip":    "1.2.3.4",
	}
	res := Event(p)
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
}

func TestEvent_MissingEventID(t *testing.T) {
	p := model.Payload{"timestamp": "2024-01-02T03:04:05Z"}
	res := Event(p)
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func TestEvent_WrongPrefix(t *testing.T) {
	p := model.Payload{"eventid": "notcowrie.session.connect", "timestamp": "2024-01-02T03:04:05Z"}
	res := Event(p)
	require.False(t, res.Valid)
}

func TestEvent_UnknownEventIDAcceptedWithWarning(t *testing.T) {
	p := model.Payload{"eventid": "cowrie.totally.new", "timestamp": "2024-01-02T03:04:05Z"}
	res := Event(p)
	require.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
}

func TestEvent_MissingRequiredFieldForKnownType(t *testing.T) {
	p := model.Payload{"eventid": "cowrie.session.connect", "timestamp": "2024-01-02T03:04:05Z"}
	res := Event(p)
	require.False(t, res.Valid)
}

func TestEvent_MissingTimestamp(t *testing.T) {
	p := model.Payload{"eventid": "cowrie.session.connect", "src_ip": "1.2.3.4"}
	res := Event(p)
	require.False(t, res.Valid)
}
