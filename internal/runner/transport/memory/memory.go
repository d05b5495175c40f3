// Package memory is an in-process transport: a pair of bounded, ordered
// channels shared between one server endpoint and one client endpoint.
//
// The pipe accepts once. While a server endpoint is open, further Accept calls
// block; when that endpoint is closed the next Accept hands out a fresh one
// bound to the same channels, so a restarted server picks up where the
// previous one left off.
package memory

import (
	"context"
	"sync"

	"github.com/bdobrica/lcsm/internal/runner/transport"
)

// DefaultCapacity is the number of frames buffered in each direction.
const DefaultCapacity = 64

// Pipe is both the Listener of the server side and the factory of the
// client side.
type Pipe struct {
	toServer chan []byte
	toClient chan []byte
	done     chan struct{}
	client   *conn

	mu       sync.Mutex
	closed   bool
	accepted *conn
}

var _ transport.Listener = (*Pipe)(nil)

// New creates a pipe buffering up to capacity frames per direction. A
// non-positive capacity selects DefaultCapacity.
func New(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pipe{
		toServer: make(chan []byte, capacity),
		toClient: make(chan []byte, capacity),
		done:     make(chan struct{}),
	}
	p.client = newConn(p.toClient, p.toServer, p.done, nil)
	return p
}

// Client returns the client endpoint. Every call returns the same connection.
func (p *Pipe) Client() transport.Conn {
	return p.client
}

// Accept returns the server endpoint if none is open, otherwise it waits
// until the open one is closed, ctx is done, or the pipe is closed.
func (p *Pipe) Accept(ctx context.Context) (transport.Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, transport.ErrClosed
		}
		if p.accepted == nil {
			c := newConn(p.toServer, p.toClient, p.done, p.release)
			p.accepted = c
			p.mu.Unlock()
			return c, nil
		}
		busy := p.accepted.done
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, transport.ErrClosed
		case <-busy:
		}
	}
}

func (p *Pipe) release(c *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accepted == c {
		p.accepted = nil
	}
}

// Close shuts both endpoints down. Frames still queued are discarded.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// Addr implements transport.Listener.
func (p *Pipe) Addr() string { return "memory" }

type conn struct {
	in       <-chan []byte
	out      chan<- []byte
	pipeDone <-chan struct{}
	done     chan struct{}
	once     sync.Once
	onClose  func(*conn)
}

func newConn(in <-chan []byte, out chan<- []byte, pipeDone <-chan struct{}, onClose func(*conn)) *conn {
	return &conn{
		in:       in,
		out:      out,
		pipeDone: pipeDone,
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	case <-c.pipeDone:
		return true
	default:
		return false
	}
}

func (c *conn) Send(ctx context.Context, frame []byte) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case c.out <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return transport.ErrClosed
	case <-c.pipeDone:
		return transport.ErrClosed
	}
}

func (c *conn) Receive(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, transport.ErrClosed
	}
	select {
	case frame := <-c.in:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, transport.ErrClosed
	case <-c.pipeDone:
		return nil, transport.ErrClosed
	}
}

func (c *conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return nil
}
