package multiline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScan_TwoPrettyPrintedEvents(t *testing.T) {
	in := `{
  "eventid": "cowrie.session.connect",
  "timestamp": "2024-01-01T00:00:00Z",
  "session": "abc",
  "src_ip": "1.2.3.4"
}
{
  "eventid": "cowrie.session.closed",
  "timestamp": "2024-01-01T00:05:00Z",
  "session": "abc"
}
`
	var events []Event
	var overflows []Overflow
	err := Scan(strings.NewReader(in), 0,
		func(e Event) error { events = append(events, e); return nil },
		func(o Overflow) error { overflows = append(overflows, o); return nil },
	)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Empty(t, overflows)
	require.Equal(t, "abc", events[0].Payload.SessionID())
	require.Equal(t, "abc", events[1].Payload.SessionID())
}

func TestScan_OverflowOnRunawayBlock(t *testing.T) {
	var b strings.Builder
	b.WriteString("{\n")
	for i := 0; i < DefaultMaxLines+5; i++ {
		b.WriteString("\"junk\": \"line\",\n")
	}
	// never closes the object, so it never becomes valid JSON

	var events []Event
	var overflows []Overflow
	err := Scan(strings.NewReader(b.String()), 0,
		func(e Event) error { events = append(events, e); return nil },
		func(o Overflow) error { overflows = append(overflows, o); return nil },
	)
	require.NoError(t, err)
	require.Empty(t, events)
	require.NotEmpty(t, overflows)
}

func TestScan_SanitizesStringLeavesAfterParse(t *testing.T) {
	in := "{\n  \"eventid\": \"cowrie.command.input\",\n  \"timestamp\": \"2024-01-01T00:00:00Z\",\n  \"session\": \"abc\",\n  \"input\": \"ls\\u0000 -la\"\n}\n"
	var events []Event
	err := Scan(strings.NewReader(in), 0,
		func(e Event) error { events = append(events, e); return nil },
		func(o Overflow) error { return nil },
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ls -la", events[0].Payload.String("input"))
}
