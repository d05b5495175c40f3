// Package rpc implements the request/response layer on top of a transport:
// a Client multiplexing concurrent calls over one connection by echo token,
// and a Server dispatching each inbound request to a Handler.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/lcsm/internal/runner/protocol"
	"github.com/bdobrica/lcsm/internal/runner/transport"
)

// DefaultTimeout bounds each call unless the client is configured otherwise.
const DefaultTimeout = 30 * time.Second

// Client issues requests over a single connection. Calls may run
// concurrently; responses are matched to callers by echo token.
type Client struct {
	conn   transport.Conn
	logger *slog.Logger

	mu      sync.Mutex
	timeout time.Duration
	pending map[string]chan *protocol.Response
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientLogger sets the logger used by the receive loop.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps conn and starts its receive loop. Close must be called to
// release the loop.
func NewClient(conn transport.Conn, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		pending: make(map[string]chan *protocol.Response),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.receiveLoop(ctx)
	return c
}

// SetTimeout changes the per-call timeout for calls issued afterwards.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Request sends action with data and waits for the matching response. The
// wait ends at the earlier of ctx and the client timeout; on expiry the
// error wraps context.DeadlineExceeded or context.Canceled. An error
// response is returned as *Error.
func (c *Client) Request(ctx context.Context, action protocol.Action, data any) (*protocol.Response, error) {
	echo, ch, timeout, err := c.register()
	if err != nil {
		return nil, err
	}
	defer c.unregister(echo)

	req, err := protocol.NewRequest(echo, action, data)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode %s request: %w", action.Label(), err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.conn.Send(ctx, frame); err != nil {
		return nil, fmt.Errorf("rpc: send %s: %w", action.Label(), err)
	}

	select {
	case resp := <-ch:
		if resp.Error {
			return nil, &Error{Message: resp.Message, Response: resp}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("rpc: %s: %w", action.Label(), ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("rpc: %s: %w", action.Label(), c.closeErr())
	}
}

// Call is Request followed by decoding the response data into out, which may
// be nil when the action returns nothing.
func (c *Client) Call(ctx context.Context, action protocol.Action, in, out any) error {
	resp, err := c.Request(ctx, action, in)
	if err != nil {
		return err
	}
	if err := resp.DecodeData(out); err != nil {
		return fmt.Errorf("rpc: decode %s result: %w", action.Label(), err)
	}
	return nil
}

// Close closes the connection and waits for the receive loop to exit.
// Pending calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed once the receive loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) register() (string, chan *protocol.Response, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", nil, 0, ErrClientClosed
	}
	echo := uuid.NewString()
	for _, taken := c.pending[echo]; taken; _, taken = c.pending[echo] {
		echo = uuid.NewString()
	}
	ch := make(chan *protocol.Response, 1)
	c.pending[echo] = ch
	return echo, ch, c.timeout, nil
}

func (c *Client) unregister(echo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, echo)
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

// receiveLoop is the only reader of the connection. It delivers each response
// to the caller waiting on its echo and drops the rest.
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)

	for {
		frame, err := c.conn.Receive(ctx)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			if ctx.Err() == nil {
				c.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
				c.logger.Warn("rpc: client connection lost", "err", err)
			}
			c.mu.Unlock()
			return
		}

		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			c.logger.Warn("rpc: dropping undecodable response", "err", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.Echo]
		if ok {
			delete(c.pending, resp.Echo)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("rpc: dropping response without pending request", "echo", resp.Echo)
			continue
		}
		ch <- resp
	}
}
