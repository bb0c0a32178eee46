package webcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseServerURL(t *testing.T) {
	host, port, tlsScheme, err := parseServerURL("http://example.com")
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
	require.Equal(t, "80", port)
	require.False(t, tlsScheme)

	host, port, tlsScheme, err = parseServerURL("https://example.com:9443")
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
	require.Equal(t, "9443", port)
	require.True(t, tlsScheme)

	_, _, _, err = parseServerURL("ftp://example.com")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, _, _, err = parseServerURL("http://")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDirectoryOpenDedupsByHostAndPort(t *testing.T) {
	d := NewDirectory()

	s1, err := d.Open("http://127.0.0.1:0", Options{})
	require.NoError(t, err)
	s2, err := d.Open("http://127.0.0.1:0", Options{})
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 2, s1.dirRefs)

	d.Close(s1)
	require.Equal(t, 1, s1.dirRefs)

	d.Close(s2)
	require.Equal(t, 0, len(d.servers))
}

func TestDirectoryOpenRejectsUnresolvableHost(t *testing.T) {
	d := NewDirectory()
	_, err := d.Open("http://this-host-does-not-resolve.invalid", Options{})
	require.Error(t, err)
}

func TestDirectoryCloseIsNoopForForeignServer(t *testing.T) {
	d1 := NewDirectory()
	d2 := NewDirectory()

	srv, err := d1.Open("http://127.0.0.1:0", Options{})
	require.NoError(t, err)

	d2.Close(srv) // srv was never opened through d2
	require.Equal(t, 1, srv.dirRefs)
}
