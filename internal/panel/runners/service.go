// Package runners is the control-plane side of runner management: runner
// records, and RPC clients bound to a runner id.
//
// A builtin runner is served in-process through a memory pipe; every builtin
// record resolves to that one engine. Other runners are dialed through the
// socket-type registry and their clients are cached until closed.
package runners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/lcsm/common/retry"
	"github.com/bdobrica/lcsm/internal/runner/rpc"
	"github.com/bdobrica/lcsm/internal/runner/transport"
	"github.com/bdobrica/lcsm/internal/runner/transport/tcp"
)

// ErrBuiltinUnavailable is returned for builtin runners when the service has
// no builtin engine.
var ErrBuiltinUnavailable = errors.New("builtin runner is not enabled")

// Service resolves runner ids to RPC clients.
type Service struct {
	store   *Store
	builtin *Builtin
	dialers *transport.Registry
	backoff retry.Backoff
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[int]*rpc.Client
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDialer registers dial for socketType, replacing the default TCP dialer
// when socketType is transport.SocketTCP.
func WithDialer(socketType string, dial transport.DialFunc) ServiceOption {
	return func(s *Service) { s.dialers.Register(socketType, dial) }
}

// WithBackoff sets the dial retry policy.
func WithBackoff(b retry.Backoff) ServiceOption {
	return func(s *Service) { s.backoff = b }
}

// WithClientTimeout sets the per-request timeout of new clients.
func WithClientTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a service over store. builtin may be nil.
func NewService(store *Store, builtin *Builtin, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		builtin: builtin,
		dialers: transport.NewRegistry(),
		backoff: retry.DefaultBackoff,
		timeout: rpc.DefaultTimeout,
		logger:  slog.Default(),
		clients: make(map[int]*rpc.Client),
	}
	s.dialers.Register(transport.SocketTCP, func(ctx context.Context, uri string) (transport.Conn, error) {
		return tcp.Dial(ctx, uri)
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRunners returns every runner record.
func (s *Service) ListRunners(ctx context.Context) ([]Runner, error) {
	return s.store.ListRunners(ctx)
}

// GetRunner returns one runner record or an error wrapping ErrNotFound.
func (s *Service) GetRunner(ctx context.Context, id int) (*Runner, error) {
	return s.store.GetRunner(ctx, id)
}

// AddRunner stores r under a new id.
func (s *Service) AddRunner(ctx context.Context, r *Runner) error {
	r.ID = 0
	return s.store.AddRunner(ctx, r)
}

// UpdateRunner overwrites r.ID and drops its cached client, since the
// endpoint may have changed. Unknown ids are ignored.
func (s *Service) UpdateRunner(ctx context.Context, r *Runner) error {
	if _, err := s.store.UpdateRunner(ctx, r); err != nil {
		return err
	}
	s.CloseClient(r.ID)
	return nil
}

// DeleteRunner removes the record and its cached client.
func (s *Service) DeleteRunner(ctx context.Context, id int) error {
	if err := s.store.DeleteRunner(ctx, id); err != nil {
		return err
	}
	s.CloseClient(id)
	return nil
}

// Client returns a client bound to runner id, dialing it if there is no live
// cached client. Clients of builtin runners are owned by the Builtin and must
// not be closed by callers; the others are closed by CloseClient or Close.
func (s *Service) Client(ctx context.Context, id int) (*rpc.Client, error) {
	r, err := s.store.GetRunner(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.SocketType == transport.SocketBuiltin {
		if s.builtin == nil {
			return nil, ErrBuiltinUnavailable
		}
		return s.builtin.Client(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[id]; ok {
		select {
		case <-c.Done():
			s.logger.Info("runners: cached client lost its connection, redialing", "runner_id", id)
			delete(s.clients, id)
		default:
			return c, nil
		}
	}

	b := s.backoff
	b.Permanent = func(err error) bool { return errors.Is(err, transport.ErrUnknownSocketType) }
	conn, err := retry.Value(ctx, b, func(ctx context.Context) (transport.Conn, error) {
		return s.dialers.Dial(ctx, r.SocketType, r.SocketURI)
	})
	if err != nil {
		return nil, fmt.Errorf("runner %d: dial %s %s: %w", id, r.SocketType, r.SocketURI, err)
	}

	c := rpc.NewClient(conn, rpc.WithTimeout(s.timeout), rpc.WithClientLogger(s.logger.With("runner_id", id)))
	s.clients[id] = c
	s.logger.Info("runners: connected", "runner_id", id, "socket_type", r.SocketType, "uri", r.SocketURI)
	return c, nil
}

// CloseClient closes and forgets the cached client of runner id, if any.
func (s *Service) CloseClient(id int) {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Close closes every cached client. The builtin runner is left alone.
func (s *Service) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[int]*rpc.Client)
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
