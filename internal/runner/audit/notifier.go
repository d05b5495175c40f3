// Package audit posts instance lifecycle notices to an operator room.
//
// When a Matrix room is configured the runner sends one short notice per
// event (instance created, started, stopped, exited, ...) so operators can
// follow activity without tailing logs.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/lcsm/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindInstanceCreated    Kind = "instance.created"
	KindInstanceUpdated    Kind = "instance.updated"
	KindInstanceDeleted    Kind = "instance.deleted"
	KindInstanceStarted    Kind = "instance.started"
	KindInstanceStopped    Kind = "instance.stopped"
	KindInstanceTerminated Kind = "instance.terminated"
	KindInstanceExited     Kind = "instance.exited"
	KindError              Kind = "error"
)

// Event carries the data that the notifier formats and sends.
type Event struct {
	Kind Kind
	// Runner names the runner the event happened on.
	Runner string
	// InstanceID is the affected instance, 0 when none.
	InstanceID int
	// Message is a human-friendly description of what happened.
	Message string
	// TraceID defaults to the correlation id carried by the context.
	TraceID string
	// Timestamp defaults to time.Now() when zero.
	Timestamp time.Time
}

// Notifier receives lifecycle events. Notify must return quickly; delivery
// failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Noop is a no-op Notifier used when notifications are disabled.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ Event) {}

// Sender posts a plain notice to a room.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

// MatrixNotifier formats events and hands them to a background worker that
// posts them through a Sender.
type MatrixNotifier struct {
	sender  Sender
	roomID  string
	timeout time.Duration
	logger  *slog.Logger

	queue chan string
	mu    sync.RWMutex
	done  bool
	wg    sync.WaitGroup
}

// NewMatrixNotifier starts a notifier posting to roomID. Close must be called
// to flush queued notices and stop the worker.
func NewMatrixNotifier(sender Sender, roomID string, logger *slog.Logger) *MatrixNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &MatrixNotifier{
		sender:  sender,
		roomID:  roomID,
		timeout: defaultSendTimeout,
		logger:  logger,
		queue:   make(chan string, defaultQueueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Notify queues evt. A full queue drops the event with a warning.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	if evt.TraceID == "" {
		evt.TraceID = trace.FromContext(ctx)
	}
	msg := Format(evt)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.done {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("audit notifier: queue full, dropping notice", "kind", evt.Kind, "instance_id", evt.InstanceID)
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// worker to exit.
func (n *MatrixNotifier) Close() {
	n.mu.Lock()
	if !n.done {
		n.done = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *MatrixNotifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.sender.SendNotice(ctx, n.roomID, msg)
		cancel()
		if err != nil {
			n.logger.Warn("audit notifier: failed to send room notice", "room", n.roomID, "err", err)
			continue
		}
		n.logger.Debug("audit notifier: sent notice", "room", n.roomID)
	}
}

// Format renders evt as a one or two line notice.
func Format(evt Event) string {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	subject := string(evt.Kind)
	if evt.InstanceID != 0 {
		subject = fmt.Sprintf("instance %d", evt.InstanceID)
	}
	msg := fmt.Sprintf("%s %s: %s", kindIcon(evt.Kind), subject, evt.Message)
	if evt.Runner != "" {
		msg = fmt.Sprintf("[%s] %s", evt.Runner, msg)
	}
	if evt.TraceID != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, evt.TraceID)
	}
	return msg
}

// kindIcon returns a Unicode icon for the event kind.
func kindIcon(k Kind) string {
	switch k {
	case KindInstanceCreated:
		return "🟢"
	case KindInstanceUpdated:
		return "✏️"
	case KindInstanceDeleted:
		return "🗑️"
	case KindInstanceStarted:
		return "▶️"
	case KindInstanceStopped:
		return "⏹️"
	case KindInstanceTerminated:
		return "💀"
	case KindInstanceExited:
		return "⚠️"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
