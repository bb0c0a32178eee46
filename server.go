package webcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configures a Server. The zero value is usable; unset fields get
// the defaults documented below, following the same setDefaults idiom the
// teacher stack uses for HTTP server configuration.
type Options struct {
	// Logger receives lifecycle and error events. Defaults to a no-op
	// logger.
	Logger *zap.Logger

	// ReadTimeout bounds a single request read. Zero selects the default
	// of 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single header or body write. Zero selects the
	// default of 60 seconds.
	WriteTimeout time.Duration

	// MaxHandlers bounds the handler registry's size; zero means
	// unbounded. AddHandler returns ErrOutOfMemory once reached.
	MaxHandlers int

	// MaxConns bounds concurrently-accepted connections per server; zero
	// means unbounded. Connections beyond the limit are accepted and
	// immediately closed, mirroring the teacher's gate.ReachLimit idiom.
	MaxConns int32
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 60 * time.Second
	}
}

// Server owns a listener, a handler registry, and the set of live sessions
// accepted on it. Start/Stop are reference-counted so a Server obtained
// twice from the same Directory URL is torn down only once the last caller
// stops it.
type Server struct {
	rawURL   string
	hostname string
	port     string

	opts     Options
	registry *handlerRegistry
	logger   *zap.Logger

	mu        sync.Mutex
	listener  net.Listener
	starts    int
	closed    bool
	sessions  map[*Session]struct{}
	wg        sync.WaitGroup
	numConns  atomic.Int32

	tlsConfig atomic.Pointer[tls.Config]

	dirRefs int // guarded by the owning Directory's mutex, not srv.mu
}

func newServer(rawURL, hostname, port string, opts Options) *Server {
	opts.setDefaults()
	return &Server{
		rawURL:   rawURL,
		hostname: hostname,
		port:     port,
		opts:     opts,
		registry: newHandlerRegistry(opts.MaxHandlers),
		logger:   opts.Logger,
		sessions: make(map[*Session]struct{}),
		dirRefs:  1,
	}
}

// URL returns the address this server was opened with.
func (s *Server) URL() string { return s.rawURL }

// Start binds and begins accepting connections on the first call; later
// calls just bump the reference count. Stop must be called the same number
// of times to actually tear the listener down.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.starts > 0 {
		s.starts++
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.hostname, s.port))
	if err != nil {
		return fmt.Errorf("webcore: listen: %w", err)
	}
	s.listener = ln
	s.starts = 1
	s.closed = false

	go s.acceptLoop(ln)
	return nil
}

// Stop decrements the start refcount; at zero it closes the listener,
// force-closes every live session, and waits for them to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.starts == 0 {
		s.mu.Unlock()
		return
	}
	s.starts--
	if s.starts > 0 {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.listener = nil
	live := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = multierr.Append(err, ln.Close())
	}
	for _, sess := range live {
		err = multierr.Append(err, sess.close())
	}

	s.wg.Wait()

	if err != nil {
		s.logger.Warn("error while stopping server", zap.Error(err))
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Warn("accept error, retrying", zap.Error(err))
			continue
		}

		if s.opts.MaxConns > 0 && s.numConns.Add(1) > s.opts.MaxConns {
			s.numConns.Add(-1)
			_ = conn.Close()
			continue
		}

		go s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(conn net.Conn) {
	cfg := s.tlsConfig.Load()
	var t *transport
	var err error
	if cfg != nil {
		t, err = newTLSTransport(cfg, conn)
	} else {
		t = newPlainTransport(conn)
	}
	if err != nil {
		s.numConns.Add(-1)
		s.logger.Debug("transport setup failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	sess := newSession(s, t)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.numConns.Add(-1)
		_ = t.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	sess.run(context.Background())
}

// removeSession is called exactly once by a session's own goroutine as it
// returns from run. It is deliberately not a "reap on a dedicated thread"
// the way the original needed: no session ever waits on its own goroutine,
// so there is no self-join hazard to avoid here. Server.Stop waits on wg
// from a different goroutine than any session's.
func (s *Server) removeSession(sess *Session) {
	sess.setState(stateFinished)
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.numConns.Add(-1)
	s.wg.Done()
}

// AddHandler registers a route. See HandlerEntry for the field contract.
func (s *Server) AddHandler(entry HandlerEntry) (HandlerID, error) {
	return s.registry.add(entry)
}

// RemoveHandler unregisters a route. It is safe to call while dispatches
// to that handler are in flight; they complete normally.
func (s *Server) RemoveHandler(id HandlerID) {
	s.registry.remove(id)
}

// SetTLSConfig installs cfg for future accepted connections. It fails with
// ErrBusy if the server has been started and not yet fully stopped.
func (s *Server) SetTLSConfig(cfg *tls.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starts > 0 {
		return ErrBusy
	}
	s.tlsConfig.Store(cfg)
	return nil
}

// TLSConfig returns the currently installed TLS config, or nil.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig.Load()
}

func parseServerURL(raw string) (hostname, port string, tlsScheme bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "http", "ws":
		tlsScheme = false
	case "https", "wss":
		tlsScheme = true
	default:
		return "", "", false, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}

	hostname = u.Hostname()
	if hostname == "" {
		return "", "", false, fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	port = u.Port()
	if port == "" {
		if tlsScheme {
			port = "443"
		} else {
			port = "80"
		}
	}
	return hostname, port, tlsScheme, nil
}
