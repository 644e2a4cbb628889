package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString_StripsC0ExceptTabLFCR(t *testing.T) {
	in := "hello\x00world\tand\nmore\rhere\x1f"
	got := String(in)
	require.Equal(t, "helloworld\tand\nmore\rhere", got)
}

func TestString_StripsC1(t *testing.T) {
	in := "cafe"
	require.Equal(t, "cafe", String(in))
}

func TestString_NoOpOnSafeInput(t *testing.T) {
	in := "already safe, nothing to strip"
	require.Equal(t, in, String(in))
}

func TestString_IdempotentOnTwicePass(t *testing.T) {
	in := "bad\x00input"
	once := String(in)
	twice := String(once)
	require.Equal(t, once, twice)
}

func TestHasJSONEscapedControl(t *testing.T) {
	require.True(t, HasJSONEscapedControl(`{"input":"ls   -la"}`))
	require.True(t, HasJSONEscapedControl(`DEL is  here`))
	require.False(t, HasJSONEscapedControl(`{"input":"ls -la"}`))
}

func TestStripJSONEscapes(t *testing.T) {
	in := `ls   -la done`
	out := StripJSONEscapes(in)
	require.Equal(t, `ls  -la done`, out)
	require.False(t, HasJSONEscapedControl(out))
}

func TestFilename_StripsParentDirSegments(t *testing.T) {
	require.Equal(t, "etc/passwd", Filename("../../etc/passwd"))
	require.Equal(t, "home/user/file.txt", Filename("../home/user/file.txt"))
}

func TestURL_StripsWhitespace(t *testing.T) {
	require.Equal(t, "http://example.com/x", URL("http://example.com/ x"))
}
