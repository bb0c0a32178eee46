package webcore

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

type sessionState int32

const (
	stateReadingRequest sessionState = iota
	stateDispatching
	stateWritingHeaders
	stateWritingBody
	stateClosing
	stateFinished
)

func (s sessionState) String() string {
	switch s {
	case stateReadingRequest:
		return "reading-request"
	case stateDispatching:
		return "dispatching"
	case stateWritingHeaders:
		return "writing-headers"
	case stateWritingBody:
		return "writing-body"
	case stateClosing:
		return "closing"
	case stateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Session drives the request/response state machine for one accepted
// connection. It is created by the accept loop and runs its own goroutine
// (run) until the connection closes or the server shuts it down.
type Session struct {
	server    *Server
	transport *transport

	state atomic.Int32

	req         *http.Request
	persistent  bool
	closeCalled atomic.Bool

	// closed is closed by close(), independently of whatever transport I/O
	// is or isn't in flight; it is the one signal doDispatch can wait on
	// while a handler's callback goroutine hasn't completed its op yet.
	closed chan struct{}

	// Set while transitioning between states; never read across more
	// than one state-machine step.
	dispatchTo  *handlerEntry
	pendingResp *http.Response
	pendingBody []byte
}

func newSession(server *Server, t *transport) *Session {
	s := &Session{server: server, transport: t, persistent: true, closed: make(chan struct{})}
	s.state.Store(int32(stateReadingRequest))
	return s
}

func (s *Session) currentState() sessionState {
	return sessionState(s.state.Load())
}

func (s *Session) setState(st sessionState) {
	s.state.Store(int32(st))
}

// close forces any I/O currently in flight on this session to fail, and
// unblocks a session waiting on a callback op that hasn't completed yet.
// The session's own goroutine observes one or the other and drives itself
// to stateClosing. Safe to call more than once and from any goroutine,
// including the server's shutdown path; the second and later calls are
// no-ops returning nil. The returned error, if any, is the transport's
// deadline-setting failure, surfaced so a caller force-closing many
// sessions at once (Server.Stop) can collect them instead of dropping them.
func (s *Session) close() error {
	if s.closeCalled.CompareAndSwap(false, true) {
		err := s.transport.cancel()
		close(s.closed)
		return err
	}
	return nil
}

// run is the single goroutine that drives the whole connection lifetime.
// It blocks until the session reaches stateFinished, at which point the
// caller (the accept loop) has already lost its own reference and the
// server's session set no longer contains this session.
func (s *Session) run(ctx context.Context) {
	defer s.server.removeSession(s)

	for {
		switch s.currentState() {
		case stateReadingRequest:
			s.doReadRequest(ctx)
		case stateDispatching:
			s.doDispatch(ctx)
		case stateWritingHeaders:
			s.doWriteHeaders(ctx)
		case stateWritingBody:
			s.doWriteBody(ctx)
		case stateClosing:
			s.doClose()
			return
		case stateFinished:
			return
		}
	}
}

func (s *Session) doReadRequest(ctx context.Context) {
	req, err := s.transport.readRequest(ctx, s.server.opts.ReadTimeout)
	if err != nil {
		var netErr net.Error
		if !s.closeCalled.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.As(err, &netErr) {
			// The peer sent bytes that do not parse as a request while the
			// connection itself is healthy: answer 400 and close.
			s.persistent = false
			s.respondError(http.StatusBadRequest)
			return
		}
		if s.closeCalled.Load() {
			err = ErrClosed
		}
		if err != io.EOF {
			s.server.logger.Debug("read request failed", zap.Error(err))
		}
		s.setState(stateClosing)
		return
	}

	if !strings.HasPrefix(req.Proto, "HTTP/1.") {
		major := req.ProtoMajor
		s.persistent = false
		if major < 1 {
			s.respondError(http.StatusBadRequest)
		} else {
			s.respondError(http.StatusHTTPVersionNotSupported)
		}
		return
	}
	if req.ProtoMinor != 1 {
		s.persistent = false
	}
	if connectionHasClose(req.Header) {
		s.persistent = false
	}

	s.req = req

	entry, outcome := s.server.registry.match(req)
	switch outcome {
	case matchNone:
		s.respondError(http.StatusNotFound)
		return
	case matchMethodNotAllowed:
		s.respondError(http.StatusMethodNotAllowed)
		return
	}

	s.dispatchTo = entry
	s.setState(stateDispatching)
}

// connectionHasClose reports whether any comma-separated token of any
// Connection header contains "close", case-insensitively — so
// "keep-alive, close" triggers a close just like a bare "close" does.
func connectionHasClose(h http.Header) bool {
	for _, line := range h.Values("Connection") {
		for _, tok := range strings.Split(line, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "close") {
				return true
			}
		}
	}
	return false
}

func (s *Session) doDispatch(ctx context.Context) {
	entry := s.dispatchTo
	s.dispatchTo = nil

	op := newCallbackOp(s.req, entry.arg, s.transport)
	go entry.callback(op)

	select {
	case <-op.done:
	case <-s.closed:
		op.Fail(ErrClosed)
		entry.release()
		s.setState(stateClosing)
		return
	}

	isUpgrader := entry.isUpgrader
	entry.release()

	switch {
	case op.err != nil:
		s.setState(stateClosing)
	case isUpgrader && op.upgraded:
		s.req = nil
		s.setState(stateFinished)
	case op.response != nil:
		resp := op.response
		if connectionHasClose(resp.Header) {
			s.persistent = false
		}
		if !s.persistent {
			resp.Header.Set("Connection", "close")
		}
		s.pendingResp = resp
		s.setState(stateWritingHeaders)
	case op.directly || op.upgraded:
		// Handler wrote raw bytes itself, or claimed an upgrade without
		// taking the transport over: nothing left for the session to
		// write. Loop or close per persistence.
		s.req = nil
		if s.persistent {
			s.setState(stateReadingRequest)
		} else {
			s.setState(stateClosing)
		}
	default:
		// The op was completed with Respond(nil) or Fail(nil): nothing to
		// write and no error recorded. Treat like a failure. (A callback
		// that returns without completing the op at all leaves the session
		// waiting in the select above until close.)
		s.setState(stateClosing)
	}
}

func (s *Session) doWriteHeaders(ctx context.Context) {
	resp := s.pendingResp
	bodyless := s.req != nil && s.req.Method == http.MethodHead

	body, length := responseBody(resp, bodyless)

	if err := s.transport.writeHeaders(ctx, s.server.opts.WriteTimeout, resp.StatusCode, resp.Header, length); err != nil {
		s.setState(stateClosing)
		return
	}

	if length <= 0 || bodyless {
		s.finishResponse()
		return
	}

	s.pendingBody = body
	s.setState(stateWritingBody)
}

func (s *Session) doWriteBody(ctx context.Context) {
	body := s.pendingBody
	s.pendingBody = nil

	if err := s.transport.writeBody(ctx, s.server.opts.WriteTimeout, body); err != nil {
		s.setState(stateClosing)
		return
	}
	s.finishResponse()
}

func (s *Session) finishResponse() {
	s.pendingResp = nil
	s.req = nil
	if s.persistent {
		s.setState(stateReadingRequest)
	} else {
		s.setState(stateClosing)
	}
}

func (s *Session) respondError(status int) {
	body := http.StatusText(status)
	header := http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}}
	if !s.persistent {
		header.Set("Connection", "close")
	}
	s.pendingResp = &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	s.setState(stateWritingHeaders)
}

func (s *Session) doClose() {
	if !s.transport.isTakenOver() {
		_ = s.transport.Close()
	}
	s.setState(stateFinished)
}

// responseBody extracts the fixed-length body bytes from resp, honoring
// bodyless (HEAD responses never carry a body on the wire, even though
// Content-Length still reflects what a GET to the same path would send).
func responseBody(resp *http.Response, bodyless bool) ([]byte, int64) {
	length := resp.ContentLength
	if resp.Body == nil || resp.Body == http.NoBody {
		if length < 0 {
			length = 0
		}
		return nil, length
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, 0
	}
	if length < 0 {
		length = int64(len(data))
	}
	if bodyless {
		return nil, length
	}
	return data, length
}
