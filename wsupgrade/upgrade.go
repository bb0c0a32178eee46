// Package wsupgrade is a concrete illustration of webcore's IsUpgrader
// contract: a handler that completes WebSocket handshakes (RFC 6455) and
// hands the live connection off to a caller-supplied session function,
// mirroring ridge-limestone/tws.Serve's upgrader/session-function split but
// built on webcore's CallbackOp instead of net/http.
//
// webcore itself never imports gorilla/websocket; this package is an
// additive consumer of the public API, not part of the core.
package wsupgrade

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcflux/webcore"
)

// SessionFunc drives one upgraded connection. conn is closed automatically
// once SessionFunc returns, unless it has already been closed.
type SessionFunc func(ctx context.Context, conn *websocket.Conn)

// Config mirrors the handful of gorilla/websocket.Upgrader knobs the
// original's "upgrader" contract actually needs.
type Config struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	Subprotocols     []string
}

// Handler returns a webcore.CallbackFunc suitable for registering with
// IsUpgrader: true. On a failed handshake gorilla/websocket writes its own
// error response directly on the connection (with no Content-Length
// header) and the op is completed with WroteDirectly instead of Upgrade, so
// the session keeps managing the connection under its usual persistence
// rules.
func Handler(cfg Config, fn SessionFunc) webcore.CallbackFunc {
	upgrader := &websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      cfg.CheckOrigin,
		Subprotocols:     cfg.Subprotocols,
	}

	return func(op *webcore.CallbackOp) {
		conn, br := op.Transport().TakeOver()

		hw := &hijackWriter{conn: conn, br: br, header: make(http.Header)}
		wsConn, err := upgrader.Upgrade(hw, op.Request(), nil)
		if err != nil {
			op.WroteDirectly()
			return
		}

		op.Upgrade()
		fn(context.Background(), wsConn)
		_ = wsConn.Close()
	}
}

// hijackWriter adapts webcore's already-taken-over net.Conn/*bufio.Reader
// pair to the http.ResponseWriter + http.Hijacker interface
// gorilla/websocket.Upgrader.Upgrade requires, without going through
// net/http's server machinery at all: webcore never builds an
// http.ResponseWriter for ordinary requests, so this exists solely to let
// the upgrader reuse gorilla's real handshake validation and accept-key
// computation instead of reimplementing RFC 6455 §1.3 by hand.
//
// Upgrade only ever uses this on the failure path (a successful upgrade
// calls Hijack before writing anything) so WriteHeader/Write only need to
// produce a correct once-only status line and header block, not a general
// streaming response writer.
type hijackWriter struct {
	conn        net.Conn
	br          *bufio.Reader
	header      http.Header
	wroteHeader bool
}

func (h *hijackWriter) Header() http.Header { return h.header }

func (h *hijackWriter) Write(p []byte) (int, error) {
	if !h.wroteHeader {
		h.WriteHeader(http.StatusOK)
	}
	return h.conn.Write(p)
}

func (h *hijackWriter) WriteHeader(status int) {
	if h.wroteHeader {
		return
	}
	h.wroteHeader = true
	fmt.Fprintf(h.conn, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	h.header.Write(h.conn)
	io.WriteString(h.conn, "\r\n")
}

func (h *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(h.br, bufio.NewWriter(h.conn))
	return h.conn, rw, nil
}
