package webcore

import (
	"bufio"
	"net"
	"net/http"
	"sync/atomic"
)

// TransportHandle is the narrow view of a session's transport exposed to an
// upgrader. TakeOver hands the raw connection to the caller, along with the
// buffered reader the transport had already filled from any bytes
// following the request headers. It does not by itself stop the session
// from managing the connection; see CallbackOp.Upgrade.
type TransportHandle interface {
	TakeOver() (net.Conn, *bufio.Reader)
}

// CallbackOp carries the inputs to one handler dispatch and collects its
// outcome. A handler completes it exactly once, by calling one of Respond,
// Upgrade, WroteDirectly, or Fail; the session itself may also complete it
// with Fail(ErrClosed) if it gives up waiting first, so every completion
// method guards against a second, racing completion rather than assuming
// the handler is the only caller.
type CallbackOp struct {
	request   *http.Request
	arg       any
	transport *transport

	done      chan struct{}
	completed atomic.Bool
	response  *http.Response
	upgraded  bool
	directly  bool
	err       error
}

func newCallbackOp(req *http.Request, arg any, t *transport) *CallbackOp {
	return &CallbackOp{
		request:   req,
		arg:       arg,
		transport: t,
		done:      make(chan struct{}),
	}
}

// Request returns the matched request.
func (op *CallbackOp) Request() *http.Request { return op.request }

// Arg returns the handler's registered Arg.
func (op *CallbackOp) Arg() any { return op.arg }

// Transport exposes TakeOver to handlers registered with IsUpgrader.
// Calling TakeOver by itself does not surrender the connection — a handler
// that takes it to attempt a handshake and then backs out by calling
// WroteDirectly or Fail leaves the session free to keep using the
// connection normally. Only a subsequent call to Upgrade marks the
// transport as genuinely taken over.
func (op *CallbackOp) Transport() TransportHandle { return op.transport }

// Respond completes the op with a response for the session to write.
func (op *CallbackOp) Respond(resp *http.Response) {
	if !op.completed.CompareAndSwap(false, true) {
		return
	}
	op.response = resp
	close(op.done)
}

// Upgrade completes the op having taken ownership of the transport (via
// Transport().TakeOver()). The session will not touch the connection again.
func (op *CallbackOp) Upgrade() {
	if !op.completed.CompareAndSwap(false, true) {
		return
	}
	op.transport.markTakenOver()
	op.upgraded = true
	close(op.done)
}

// WroteDirectly completes the op having already written response bytes to
// the transport itself. The session treats this like an empty response for
// persistence bookkeeping: it loops back to reading the next request, or
// closes if the connection isn't persistent.
func (op *CallbackOp) WroteDirectly() {
	if !op.completed.CompareAndSwap(false, true) {
		return
	}
	op.directly = true
	close(op.done)
}

// Fail completes the op with a failure; the session closes the connection.
// The session calls this itself with ErrClosed when it gives up waiting on
// a handler during shutdown, so a handler racing to complete the same op
// normally just loses the race silently rather than double-closing done.
func (op *CallbackOp) Fail(err error) {
	if !op.completed.CompareAndSwap(false, true) {
		return
	}
	op.err = err
	close(op.done)
}
