package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/lcsm/common/trace"
	"github.com/bdobrica/lcsm/internal/runner/protocol"
	"github.com/bdobrica/lcsm/internal/runner/transport"
)

// acceptBackoff is the pause after a failed Accept before trying again.
const acceptBackoff = 100 * time.Millisecond

// Handler executes one action. The returned value is encoded as the response
// data; a non-nil error becomes an error response carrying its message.
type Handler interface {
	ServeRPC(ctx context.Context, action protocol.Action, data json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action protocol.Action, data json.RawMessage) (any, error)

// ServeRPC calls f.
func (f HandlerFunc) ServeRPC(ctx context.Context, action protocol.Action, data json.RawMessage) (any, error) {
	return f(ctx, action, data)
}

// Server accepts connections from a Listener and serves each on its own
// goroutine, one request at a time.
type Server struct {
	listener transport.Listener
	handler  Handler
	logger   *slog.Logger
	metrics  *Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	loop   chan struct{}
	conns  sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request metrics on m.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a stopped server.
func NewServer(l transport.Listener, h Handler, opts ...ServerOption) *Server {
	s := &Server{
		listener: l,
		handler:  h,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the accept loop. Calling Start on a started server does nothing.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loop = make(chan struct{})
	go s.acceptLoop(ctx, s.loop)
	s.logger.Info("rpc: server started", "addr", s.listener.Addr())
}

// Stop cancels the accept loop and every connection worker, then waits for
// all of them to exit. Calling Stop on a stopped server does nothing.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.loop
	s.conns.Wait()
	s.cancel = nil
	s.loop = nil
	s.logger.Info("rpc: server stopped", "addr", s.listener.Addr())
}

// Started reports whether the accept loop is running.
func (s *Server) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Server) acceptLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrClosed) {
				s.logger.Warn("rpc: listener closed, accept loop exiting")
				return
			}
			s.logger.Error("rpc: accept failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}

		s.conns.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// serveConn reads, dispatches and answers requests strictly in order until
// the connection fails or the server stops.
func (s *Server) serveConn(ctx context.Context, conn transport.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	connID := trace.NewID()
	ctx = trace.WithID(ctx, connID)
	logger := s.logger.With("conn_id", connID)
	logger.Debug("rpc: connection accepted")

	s.metrics.connOpened()
	defer s.metrics.connClosed()

	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				logger.Warn("rpc: receive failed", "err", err)
			}
			logger.Debug("rpc: connection closed")
			return
		}

		resp := s.handle(ctx, logger, frame)

		out, err := protocol.EncodeResponse(resp)
		if err != nil {
			logger.Error("rpc: encode response", "echo", resp.Echo, "err", err)
			out, err = protocol.EncodeResponse(protocol.Failure(resp.Echo, fmt.Errorf("encode response: %w", err)))
			if err != nil {
				return
			}
		}
		if err := conn.Send(ctx, out); err != nil {
			if ctx.Err() == nil {
				logger.Warn("rpc: send failed", "echo", resp.Echo, "err", err)
			}
			return
		}
	}
}

// handle turns one frame into one response. Every failure, including a panic
// in the handler, ends up as an error response.
func (s *Server) handle(ctx context.Context, logger *slog.Logger, frame []byte) (resp *protocol.Response) {
	start := time.Now()
	label := "invalid"

	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		echo := protocol.RecoverEcho(frame)
		logger.Warn("rpc: malformed request", "echo", echo, "err", err)
		s.metrics.observe(label, true, time.Since(start).Seconds())
		return protocol.Failure(echo, err)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("rpc: handler panic", "echo", req.Echo, "action", label, "panic", r)
			resp = protocol.Failure(req.Echo, fmt.Errorf("internal error: %v", r))
		}
		s.metrics.observe(label, resp.Error, time.Since(start).Seconds())
	}()

	action, err := protocol.ParseAction(req.Action)
	if err != nil {
		logger.Warn("rpc: unknown action", "echo", req.Echo, "action", req.Action)
		return protocol.Failure(req.Echo, err)
	}
	label = action.Label()

	result, err := s.handler.ServeRPC(ctx, action, req.Data)
	if err != nil {
		logger.Info("rpc: request failed", "echo", req.Echo, "action", label, "err", err)
		return protocol.Failure(req.Echo, err)
	}

	resp, err = protocol.Success(req.Echo, result)
	if err != nil {
		return protocol.Failure(req.Echo, err)
	}
	logger.Debug("rpc: request served", "echo", req.Echo, "action", label, "duration", time.Since(start))
	return resp
}
