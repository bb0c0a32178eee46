package webcore

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// transport is the framed HTTP transport for one connection: request
// parsing is delegated to net/http.ReadRequest (the external collaborator
// the original spec assumes is provided); response header/body writing is
// hand-rolled because the state machine needs to write headers and body as
// two separate, independently-failable steps, which http.Response.Write
// does not support.
type transport struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	mu        sync.Mutex
	takenOver bool
}

func newPlainTransport(conn net.Conn) *transport {
	return &transport{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
}

func newTLSTransport(cfg *tls.Config, conn net.Conn) (*transport, error) {
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return nil, err
	}
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return newPlainTransport(tlsConn), nil
}

// readRequest blocks for at most timeout (0 means no deadline) and returns
// the next request, or an error if the connection is closed, the peer sent
// nothing parseable, or the read timed out.
func (t *transport) readRequest(ctx context.Context, timeout time.Duration) (*http.Request, error) {
	if err := t.deadline(timeout, t.conn.SetReadDeadline); err != nil {
		return nil, err
	}
	req, err := http.ReadRequest(t.br)
	if err != nil {
		return nil, err
	}
	req.URL.Path = Canonicalize(req.URL.Path)
	return req, nil
}

// writeHeaders writes the status line and headers. When contentLength >= 0
// it is always emitted as Content-Length (the original's response object
// computes this from set_data; there is no chunked-encoding fallback for a
// known-length body here, matching that behavior).
func (t *transport) writeHeaders(ctx context.Context, timeout time.Duration, status int, header http.Header, contentLength int64) error {
	if err := t.deadline(timeout, t.conn.SetWriteDeadline); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	if contentLength >= 0 {
		header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	if err := header.Write(t.bw); err != nil {
		return err
	}
	if _, err := t.bw.WriteString("\r\n"); err != nil {
		return err
	}
	return t.bw.Flush()
}

func (t *transport) writeBody(ctx context.Context, timeout time.Duration, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if err := t.deadline(timeout, t.conn.SetWriteDeadline); err != nil {
		return err
	}
	if _, err := t.bw.Write(body); err != nil {
		return err
	}
	return t.bw.Flush()
}

func (t *transport) deadline(timeout time.Duration, set func(time.Time) error) error {
	if timeout <= 0 {
		return set(time.Time{})
	}
	return set(time.Now().Add(timeout))
}

// cancel forces any in-flight read or write to return immediately, the
// stand-in for the original's per-op cancellation: one call unblocks
// whichever of read/write is currently outstanding, since a session only
// ever has one in flight at a time outside of stateDispatching. The
// returned error is whatever the underlying SetDeadline call reported, so
// a caller closing many sessions at once (Server.Stop) can collect them.
func (t *transport) cancel() error {
	past := time.Now().Add(-time.Second)
	return t.conn.SetDeadline(past)
}

// TakeOver implements TransportHandle for upgrader handlers. It hands out
// the raw connection and reader so the caller can speak a different
// protocol on it or attempt a handshake, but does not by itself stop the
// session from managing the connection afterward: a handler that takes the
// transport to attempt something that then fails (an invalid WebSocket
// handshake, say) and responds through CallbackOp.WroteDirectly is still
// entitled to have the session keep the connection alive for the client's
// next request. Only CallbackOp.Upgrade marks the transport as genuinely
// surrendered, via markTakenOver.
func (t *transport) TakeOver() (net.Conn, *bufio.Reader) {
	_ = t.conn.SetDeadline(time.Time{})
	return t.conn, t.br
}

func (t *transport) markTakenOver() {
	t.mu.Lock()
	t.takenOver = true
	t.mu.Unlock()
}

func (t *transport) isTakenOver() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.takenOver
}

func (t *transport) Close() error {
	if t.isTakenOver() {
		return nil
	}
	return t.conn.Close()
}
