// Package transport defines how envelopes move between a runner and its
// callers: a Listener hands out connections, a Conn moves whole frames.
//
// Carriers live in subpackages (memory, tcp). Higher layers only see these
// interfaces and never deal with framing.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed Conn or Listener.
var ErrClosed = errors.New("transport: closed")

// Conn is a bidirectional, ordered, message-oriented connection. Send may be
// called from several goroutines at once; Receive is meant for a single reader.
type Conn interface {
	// Send writes one frame. It blocks while the peer is not draining.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until one full frame arrives, ctx is done, or the
	// connection fails.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the connection. Pending Send and Receive calls return
	// ErrClosed or an I/O error.
	Close() error
}

// Listener accepts inbound connections.
type Listener interface {
	// Accept blocks until a connection arrives or ctx is done, in which case
	// it returns ctx.Err(). A Listener survives a cancelled Accept, so it can
	// be reused by a restarted server.
	Accept(ctx context.Context) (Conn, error)
	// Close stops listening for good.
	Close() error
	// Addr describes where the listener is reachable.
	Addr() string
}
