package webcore

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// HandlerID identifies a registered handler for later removal.
type HandlerID int64

// CallbackFunc is invoked to serve a matched request. It may complete the
// op synchronously before returning, or stash op and complete it later from
// another goroutine (the motivating case: a WebSocket upgrader that hands
// the connection off to its own read/write loop).
type CallbackFunc func(op *CallbackOp)

// HandlerEntry describes a route to register with AddHandler.
type HandlerEntry struct {
	// Method must be non-empty and not "HEAD" (HEAD is served implicitly
	// by any GET registration).
	Method string

	// Path is matched as a prefix (directory-style) or an exact path
	// (file-style), per IsDirectory. A trailing '/' is stripped.
	Path string

	// Host, if set, restricts matching to requests whose Host header
	// equals it case-insensitively (an optional trailing '.' on Host is
	// ignored). Empty means "any host".
	Host string

	// IsDirectory marks Path as a prefix that may be followed by
	// "/<anything>", not just an exact match or a lone trailing slash.
	IsDirectory bool

	// IsUpgrader marks a handler that may take ownership of the
	// connection via CallbackOp.Upgrade, bypassing response writing.
	IsUpgrader bool

	// Callback serves matched requests. Required.
	Callback CallbackFunc

	// Arg is passed through to Callback via CallbackOp.Arg, opaque to
	// the registry.
	Arg any

	// ArgCloser, if set, is invoked exactly once, when the handler's
	// refcount reaches zero (the registry no longer holds it and no
	// dispatch is still in flight).
	ArgCloser func(any)
}

// handlerEntry is the refcounted node shared between the registry and any
// in-flight dispatch. Removal from the registry and completion of a
// dispatch each drop one reference; the last one to drop it runs ArgCloser.
type handlerEntry struct {
	id          HandlerID
	method      string
	path        string
	host        string
	isDirectory bool
	isUpgrader  bool
	callback    CallbackFunc
	arg         any
	argCloser   func(any)

	refs atomic.Int32
}

func (h *handlerEntry) release() {
	if h.refs.Add(-1) == 0 && h.argCloser != nil {
		h.argCloser(h.arg)
	}
}

type matchOutcome int

const (
	matchNone matchOutcome = iota
	matchMethodNotAllowed
	matchFound
)

// handlerRegistry is the thread-safe collection of route entries for one
// Server. All mutation and the match-then-ref-acquire sequence happen under
// mu, matching the original's "atomically increments the handler refcount
// while still holding the registry lock" requirement.
type handlerRegistry struct {
	mu      sync.Mutex
	entries []*handlerEntry
	nextID  HandlerID
	maxSize int // 0 means unbounded
}

func newHandlerRegistry(maxSize int) *handlerRegistry {
	return &handlerRegistry{maxSize: maxSize}
}

func (r *handlerRegistry) add(spec HandlerEntry) (HandlerID, error) {
	if spec.Method == "" || strings.EqualFold(spec.Method, "HEAD") || spec.Path == "" || spec.Callback == nil {
		return 0, ErrInvalid
	}

	path := strings.TrimRight(spec.Path, "/")
	host := normalizeHost(spec.Host)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries {
		if conflicts(existing, host, spec.Method, path) {
			return 0, ErrAddressInUse
		}
	}
	if r.maxSize > 0 && len(r.entries) >= r.maxSize {
		return 0, ErrOutOfMemory
	}

	r.nextID++
	entry := &handlerEntry{
		id:          r.nextID,
		method:      spec.Method,
		path:        path,
		host:        host,
		isDirectory: spec.IsDirectory,
		isUpgrader:  spec.IsUpgrader,
		callback:    spec.Callback,
		arg:         spec.Arg,
		argCloser:   spec.ArgCloser,
	}
	entry.refs.Store(1)
	r.entries = append(r.entries, entry)
	return entry.id, nil
}

func (r *handlerRegistry) remove(id HandlerID) {
	r.mu.Lock()
	var removed *handlerEntry
	for i, e := range r.entries {
		if e.id == id {
			removed = e
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if removed != nil {
		removed.release()
	}
}

// match finds the handler for req and, on a full match, increments its
// refcount before returning — the caller is responsible for calling
// release() exactly once when the dispatch completes.
func (r *handlerRegistry) match(req *http.Request) (*handlerEntry, matchOutcome) {
	path := req.URL.Path
	host := req.Host

	r.mu.Lock()
	defer r.mu.Unlock()

	methodNotAllowed := false
	for _, e := range r.entries {
		if !hostMatches(e.host, host) {
			continue
		}
		if !pathMatches(e, path) {
			continue
		}
		if methodMatches(e.method, req.Method) {
			e.refs.Add(1)
			return e, matchFound
		}
		methodNotAllowed = true
	}
	if methodNotAllowed {
		return nil, matchMethodNotAllowed
	}
	return nil, matchNone
}

func conflicts(existing *handlerEntry, host, method, path string) bool {
	if !hostsEqual(existing.host, host) {
		return false
	}
	if existing.method != method {
		return false
	}
	n := min(len(existing.path), len(path))
	return existing.path[:n] == path[:n]
}

// hostsEqual is the conflict-detection notion of "same host": an empty
// host on either side is a wildcard that matches anything, so it conflicts
// with every other host, not just another empty host.
func hostsEqual(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(host, ".")
}

// hostMatches implements §4.2's Host rule: an empty entry host is a
// wildcard; otherwise the request's Host header must match entry.host
// case-insensitively, optionally followed by ":<port>" or a single
// trailing ".".
func hostMatches(entryHost, reqHost string) bool {
	if entryHost == "" {
		return true
	}
	if reqHost == "" {
		return false
	}
	if len(reqHost) < len(entryHost) || !strings.EqualFold(reqHost[:len(entryHost)], entryHost) {
		return false
	}
	rest := reqHost[len(entryHost):]
	switch {
	case rest == "":
		return true
	case rest[0] == ':':
		return true
	case rest == ".":
		return true
	default:
		return false
	}
}

// pathMatches implements §4.2's Path rule.
func pathMatches(e *handlerEntry, reqPath string) bool {
	if len(reqPath) < len(e.path) || reqPath[:len(e.path)] != e.path {
		return false
	}
	rest := reqPath[len(e.path):]
	switch {
	case rest == "":
		return true
	case rest == "/":
		return true
	case e.isDirectory && len(rest) > 1 && rest[0] == '/':
		return true
	default:
		return false
	}
}

func methodMatches(entryMethod, reqMethod string) bool {
	if entryMethod == reqMethod {
		return true
	}
	return reqMethod == http.MethodHead && entryMethod == http.MethodGet
}
