package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Socket types understood by the control plane.
const (
	SocketBuiltin = "builtin"
	SocketTCP     = "tcp"
)

// ErrUnknownSocketType is returned by Dial for socket types nobody registered.
var ErrUnknownSocketType = errors.New("unknown socket type")

// DialFunc opens a connection to the runner reachable at uri.
type DialFunc func(ctx context.Context, uri string) (Conn, error)

// Registry maps socket types to the dialers that reach them.
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]DialFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{dialers: make(map[string]DialFunc)}
}

// Register binds socketType to dial, replacing any previous binding.
func (r *Registry) Register(socketType string, dial DialFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[socketType] = dial
}

// Dial opens a connection using the dialer registered for socketType.
func (r *Registry) Dial(ctx context.Context, socketType, uri string) (Conn, error) {
	r.mu.RLock()
	dial, ok := r.dialers[socketType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownSocketType, socketType, r.Names())
	}
	return dial(ctx, uri)
}

// Names returns the registered socket types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dialers))
	for name := range r.dialers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
