package webcore

import "errors"

// Sentinel errors surfaced to callers of the public API. Wrap with
// fmt.Errorf("...: %w", ErrX) when adding context; callers should compare
// with errors.Is, not string matching.
var (
	// ErrInvalid is returned for malformed arguments: an empty method or
	// path, a method of "HEAD", or a nil callback in a HandlerEntry.
	ErrInvalid = errors.New("webcore: invalid argument")

	// ErrAddressInUse is returned by AddHandler when the new entry
	// conflicts with an already-registered one under the §4.2 rule.
	ErrAddressInUse = errors.New("webcore: handler conflicts with an existing registration")

	// ErrOutOfMemory is returned by AddHandler when the server's
	// MaxHandlers bound (if configured) is exceeded. It stands in for the
	// original C implementation's allocator-exhaustion error, which Go
	// code cannot otherwise observe at this layer.
	ErrOutOfMemory = errors.New("webcore: handler registry is full")

	// ErrInvalidAddress is returned by Open when the URL scheme is
	// unsupported or the host cannot be resolved.
	ErrInvalidAddress = errors.New("webcore: invalid server address")

	// ErrBusy is returned by SetTLSConfig while the server is started.
	ErrBusy = errors.New("webcore: server is started")

	// ErrClosed is observed by in-flight operations when a session or
	// server shuts down out from under them.
	ErrClosed = errors.New("webcore: closed")
)
