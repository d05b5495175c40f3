// Package trace provides correlation ids and their context propagation, so a
// connection or request can be followed across log lines.
package trace

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// idKey is the unexported context key used to store the correlation id.
type idKey struct{}

// NewID returns a time-sortable ULID string. Ids generated by one process sort
// in creation order.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// WithID returns a child context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// FromContext extracts the correlation id from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(idKey{}).(string); ok {
		return v
	}
	return ""
}
