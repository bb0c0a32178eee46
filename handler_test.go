package webcore

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *handlerRegistry {
	return newHandlerRegistry(0)
}

func noopCallback(op *CallbackOp) {}

func TestRegistryAddRejectsInvalid(t *testing.T) {
	r := newTestRegistry()

	_, err := r.add(HandlerEntry{Method: "", Path: "/a", Callback: noopCallback})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = r.add(HandlerEntry{Method: http.MethodHead, Path: "/a", Callback: noopCallback})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = r.add(HandlerEntry{Method: http.MethodGet, Path: "", Callback: noopCallback})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = r.add(HandlerEntry{Method: http.MethodGet, Path: "/a", Callback: nil})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestRegistryAddRejectsConflict(t *testing.T) {
	r := newTestRegistry()

	_, err := r.add(HandlerEntry{Method: http.MethodGet, Path: "/foo", Callback: noopCallback})
	require.NoError(t, err)

	_, err = r.add(HandlerEntry{Method: http.MethodGet, Path: "/foobar", Callback: noopCallback})
	require.ErrorIs(t, err, ErrAddressInUse)

	_, err = r.add(HandlerEntry{Method: http.MethodPost, Path: "/foo", Callback: noopCallback})
	require.NoError(t, err, "different method on same path should not conflict")

	_, err = r.add(HandlerEntry{Method: http.MethodGet, Path: "/foo", Host: "example.com", Callback: noopCallback})
	require.ErrorIs(t, err, ErrAddressInUse, "a wildcard (empty) host conflicts with any other host for the same method/path")
}

func TestRegistryAddAllowsDistinctNonWildcardHosts(t *testing.T) {
	r := newTestRegistry()

	_, err := r.add(HandlerEntry{Method: http.MethodGet, Path: "/foo", Host: "a.example.com", Callback: noopCallback})
	require.NoError(t, err)

	_, err = r.add(HandlerEntry{Method: http.MethodGet, Path: "/foo", Host: "b.example.com", Callback: noopCallback})
	require.NoError(t, err, "two distinct, non-wildcard hosts on the same method/path do not conflict")
}

func TestRegistryMaxSize(t *testing.T) {
	r := newHandlerRegistry(1)

	_, err := r.add(HandlerEntry{Method: http.MethodGet, Path: "/a", Callback: noopCallback})
	require.NoError(t, err)

	_, err = r.add(HandlerEntry{Method: http.MethodGet, Path: "/b", Callback: noopCallback})
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestRegistryMatchHeadFallsBackToGet(t *testing.T) {
	r := newTestRegistry()
	_, err := r.add(HandlerEntry{Method: http.MethodGet, Path: "/a", Callback: noopCallback})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodHead, "/a", nil)
	entry, outcome := r.match(req)
	require.Equal(t, matchFound, outcome)
	require.NotNil(t, entry)
	entry.release()
}

func TestRegistryMatchMethodNotAllowed(t *testing.T) {
	r := newTestRegistry()
	_, err := r.add(HandlerEntry{Method: http.MethodPost, Path: "/a", Callback: noopCallback})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	_, outcome := r.match(req)
	require.Equal(t, matchMethodNotAllowed, outcome)
}

func TestRegistryMatchNone(t *testing.T) {
	r := newTestRegistry()
	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	_, outcome := r.match(req)
	require.Equal(t, matchNone, outcome)
}

func TestRegistryDirectoryMatch(t *testing.T) {
	r := newTestRegistry()
	_, err := r.add(HandlerEntry{Method: http.MethodGet, Path: "/static", IsDirectory: true, Callback: noopCallback})
	require.NoError(t, err)

	for _, path := range []string{"/static", "/static/", "/static/a/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		entry, outcome := r.match(req)
		require.Equal(t, matchFound, outcome, "path %q", path)
		entry.release()
	}

	req := httptest.NewRequest(http.MethodGet, "/staticfoo", nil)
	_, outcome := r.match(req)
	require.Equal(t, matchNone, outcome)
}

func TestHandlerRefcountRunsArgCloserOnce(t *testing.T) {
	r := newTestRegistry()
	closed := 0
	id, err := r.add(HandlerEntry{
		Method:    http.MethodGet,
		Path:      "/a",
		Callback:  noopCallback,
		Arg:       "payload",
		ArgCloser: func(any) { closed++ },
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	entry, outcome := r.match(req)
	require.Equal(t, matchFound, outcome)

	r.remove(id)
	require.Equal(t, 0, closed, "ArgCloser must not run while a dispatch still holds a ref")

	entry.release()
	require.Equal(t, 1, closed)
}

func TestHostMatchesWildcardAndSuffixRules(t *testing.T) {
	require.True(t, hostMatches("", "anything"))
	require.True(t, hostMatches("example.com", "example.com"))
	require.True(t, hostMatches("example.com", "EXAMPLE.COM"))
	require.True(t, hostMatches("example.com", "example.com:8080"))
	require.True(t, hostMatches("example.com", "example.com."))
	require.False(t, hostMatches("example.com", "example.com.evil.com"))
	require.False(t, hostMatches("example.com", ""))
}
