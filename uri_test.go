package webcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeStripsQueryAndSchemeAuthority(t *testing.T) {
	require.Equal(t, "/a/b", Canonicalize("/a/b?x=1&y=2"))
	require.Equal(t, "/a/b", Canonicalize("http://example.com/a/b"))
	require.Equal(t, "/a/b", Canonicalize("https://example.com:8443/a/b?q=1"))
	require.Equal(t, "/", Canonicalize("http://example.com"))
}

func TestCanonicalizePercentDecodes(t *testing.T) {
	require.Equal(t, "/a b", Canonicalize("/a%20b"))
	require.Equal(t, "/café", Canonicalize("/caf%c3%a9"))
}

func TestCanonicalizeMalformedEscapeIsPassedThrough(t *testing.T) {
	require.Equal(t, "/a%b", Canonicalize("/a%b"))
	require.Equal(t, "/a%", Canonicalize("/a%"))
	require.Equal(t, "/100%", Canonicalize("/100%"))
}

func TestCanonicalizeNulTruncates(t *testing.T) {
	require.Equal(t, "/a", Canonicalize("/a%00b"))
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"/a/b?x=1",
		"http://example.com/a%20b",
		"/a%b",
		"/a%",
		"/已%xx",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		require.Equal(t, once, twice, "not idempotent for %q", in)
	}
}
