package webcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
)

// Directory deduplicates servers by (hostname, port): repeated Open calls
// for the same address return the same *Server with an incremented
// reference count, torn down only once Close has been called the matching
// number of times.
//
// DefaultDirectory is the process-wide instance used by the package-level
// OpenServer/CloseServer helpers. Construct your own Directory instead of
// relying on the global if you want this dedup scoped to something
// narrower than the whole process — the original's single global list is
// a latent source of surprise across unrelated subsystems sharing one
// process, flagged in Design Notes rather than papered over with a hidden
// singleton only.
type Directory struct {
	mu      sync.Mutex
	servers map[string]*Server // key: hostname + ":" + port
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{servers: make(map[string]*Server)}
}

// DefaultDirectory is shared by OpenServer and CloseServer.
var DefaultDirectory = NewDirectory()

// OpenServer opens rawURL against the process-wide DefaultDirectory.
func OpenServer(rawURL string) (*Server, error) {
	return DefaultDirectory.Open(rawURL, Options{})
}

// OpenServerWithOptions is like OpenServer but lets the caller supply
// Options on first construction; Options are ignored on a dedup hit
// against an already-open server.
func OpenServerWithOptions(rawURL string, opts Options) (*Server, error) {
	return DefaultDirectory.Open(rawURL, opts)
}

// CloseServer closes srv against the process-wide DefaultDirectory.
func CloseServer(srv *Server) {
	DefaultDirectory.Close(srv)
}

// Open parses rawURL, resolves its host synchronously (callers should
// therefore prefer numeric hosts or well-cached names — this blocks the
// otherwise-asynchronous construction path, carried over unchanged from
// the original as a documented constraint rather than fixed here), and
// either returns an existing server for the same (hostname, port) with its
// refcount bumped, or constructs a new one.
func (d *Directory) Open(rawURL string, opts Options) (*Server, error) {
	hostname, port, tlsScheme, err := parseServerURL(rawURL)
	if err != nil {
		return nil, err
	}

	key := hostname + ":" + port

	d.mu.Lock()
	if existing, ok := d.servers[key]; ok {
		existing.dirRefs++
		d.mu.Unlock()
		return existing, nil
	}
	d.mu.Unlock()

	if _, err := net.DefaultResolver.LookupHost(context.Background(), hostname); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	srv := newServer(rawURL, hostname, port, opts)
	if tlsScheme {
		srv.tlsConfig.Store(&tls.Config{})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.servers[key]; ok {
		existing.dirRefs++
		return existing, nil
	}
	d.servers[key] = srv
	return srv, nil
}

// Close decrements srv's refcount; at zero it removes srv from the
// directory. It is a no-op if srv was not opened through d.
func (d *Directory) Close(srv *Server) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := srv.hostname + ":" + srv.port
	if d.servers[key] != srv {
		return
	}
	srv.dirRefs--
	if srv.dirRefs <= 0 {
		delete(d.servers, key)
	}
}
