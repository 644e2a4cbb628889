package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetect_LineJSON(t *testing.T) {
	in := strings.Join([]string{
		`{"eventid":"cowrie.session.connect","timestamp":"2024-01-01T00:00:00Z","session":"a","src_ip":"1.2.3.4"}`,
		`{"eventid":"cowrie.command.input","timestamp":"2024-01-01T00:00:01Z","session":"a","input":"ls"}`,
	}, "\n")
	res, err := Detect(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, FormatLineJSON, res.Format)
	require.GreaterOrEqual(t, res.Confidence, 0.5)
}

func TestDetect_MultilineJSON(t *testing.T) {
	in := `{
  "eventid": "cowrie.session.connect",
  "timestamp": "2024-01-01T00:00:00Z",
  "session": "a",
  "src_ip": "1.2.3.4"
}
{
  "eventid": "cowrie.session.closed",
  "timestamp": "2024-01-01T00:01:00Z",
  "session": "a"
}`
	res, err := Detect(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, FormatMultilineJSON, res.Format)
}

func TestDetect_Unknown(t *testing.T) {
	res, err := Detect(strings.NewReader("not json at all\njust text\n"))
	require.NoError(t, err)
	require.Equal(t, FormatUnknown, res.Format)
}
