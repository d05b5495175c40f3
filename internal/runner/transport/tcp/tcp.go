// Package tcp carries frames over TCP. Each frame is preceded by its length
// as a 4-byte little-endian unsigned integer.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bdobrica/lcsm/internal/runner/transport"
)

const (
	headerSize = 4

	// MaxFrameSize bounds a single frame in either direction.
	MaxFrameSize = 16 << 20
)

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("tcp: frame too large")

// aLongTimeAgo is a deadline in the past, used to wake blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// interruptOn arranges for set(aLongTimeAgo) to run when ctx is done. The
// returned function must be called once the guarded I/O returns; it waits for
// an already-running interrupt so no stale deadline is left behind.
func interruptOn(ctx context.Context, set func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		set(aLongTimeAgo)
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}

// Listener accepts framed TCP connections.
type Listener struct {
	ln *net.TCPListener
}

var _ transport.Listener = (*Listener)(nil)

// Listen opens a TCP listener on addr (host:port).
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln.(*net.TCPListener)}, nil
}

// Accept implements transport.Listener.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.ln.SetDeadline(time.Time{}); err != nil {
		return nil, mapErr(ctx, err)
	}
	release := interruptOn(ctx, l.ln.SetDeadline)
	c, err := l.ln.Accept()
	release()
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	return NewConn(c), nil
}

// Close implements transport.Listener.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr implements transport.Listener.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Dial connects to a framed TCP endpoint at addr.
func Dial(ctx context.Context, addr string) (transport.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// Conn frames messages over a stream connection.
type Conn struct {
	c   net.Conn
	wmu sync.Mutex
	rmu sync.Mutex
}

var _ transport.Conn = (*Conn)(nil)

// NewConn wraps an established stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{c: c}
}

// Send implements transport.Conn.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	buf := make([]byte, headerSize+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[headerSize:], frame)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.c.SetWriteDeadline(time.Time{}); err != nil {
		return mapErr(ctx, err)
	}
	release := interruptOn(ctx, c.c.SetWriteDeadline)
	n, err := c.c.Write(buf)
	release()
	if err != nil {
		if n > 0 {
			// A torn frame desynchronizes the peer.
			c.c.Close()
		}
		return mapErr(ctx, err)
	}
	return nil
}

// Receive implements transport.Conn. A Receive interrupted in the middle of a
// frame closes the connection, since the stream can no longer be re-aligned.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if err := c.c.SetReadDeadline(time.Time{}); err != nil {
		return nil, mapErr(ctx, err)
	}
	release := interruptOn(ctx, c.c.SetReadDeadline)
	defer release()

	var header [headerSize]byte
	if n, err := io.ReadFull(c.c, header[:]); err != nil {
		if n > 0 {
			c.c.Close()
		}
		return nil, mapErr(ctx, err)
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size > MaxFrameSize {
		c.c.Close()
		return nil, fmt.Errorf("%w: peer announced %d bytes", ErrFrameTooLarge, size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(c.c, frame); err != nil {
		c.c.Close()
		return nil, mapErr(ctx, err)
	}
	return frame, nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error { return c.c.Close() }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.c.RemoteAddr().String() }

func mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, net.ErrClosed) {
		return transport.ErrClosed
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: peer closed the connection", transport.ErrClosed)
	}
	return err
}
