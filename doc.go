// Package webcore implements the embeddable core of an HTTP/1.x server:
// per-connection session state machines, a refcounted handler registry,
// the accept loop, and a process-wide directory that deduplicates servers
// by (host, port).
//
// webcore does not parse HTTP on the wire itself (that's net/http.ReadRequest)
// and does not implement WebSocket framing (see the wsupgrade subpackage for
// an example handler built on top of gorilla/websocket). Its job is
// dispatch, lifecycle, and cancellation: matching a request to exactly one
// handler, keeping that handler addressable for the duration of the
// dispatch even if it's concurrently removed from the registry, honoring
// HTTP/1.1 persistence, and tearing connections down cleanly on shutdown.
package webcore
