package audit_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bdobrica/lcsm/common/trace"
	"github.com/bdobrica/lcsm/internal/runner/audit"
)

// fakeSender records notices for assertion.
type fakeSender struct {
	mu      sync.Mutex
	rooms   []string
	notices []string
	err     error
}

func (f *fakeSender) SendNotice(_ context.Context, room, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
	f.notices = append(f.notices, msg)
	return f.err
}

func TestMatrixNotifier_SendsNotice(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com", nil)

	ctx := trace.WithID(context.Background(), "01HTRACE")
	n.Notify(ctx, audit.Event{
		Kind:       audit.KindInstanceStarted,
		Runner:     "local",
		InstanceID: 3,
		Message:    "started",
	})
	n.Close()

	if len(sender.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(sender.notices))
	}
	if sender.rooms[0] != "!room:example.com" {
		t.Errorf("got room %q", sender.rooms[0])
	}
	msg := sender.notices[0]
	for _, want := range []string{"[local]", "instance 3", "started", "01HTRACE"} {
		if !strings.Contains(msg, want) {
			t.Errorf("notice missing %q: %q", want, msg)
		}
	}
}

func TestMatrixNotifier_NoopWhenEmptyRoom(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "", nil)
	n.Notify(context.Background(), audit.Event{Kind: audit.KindInstanceDeleted, Message: "deleted"})
	n.Close()

	if len(sender.notices) != 0 {
		t.Errorf("expected no notices, got %d", len(sender.notices))
	}
}

func TestMatrixNotifier_SendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("homeserver down")}
	n := audit.NewMatrixNotifier(sender, "!room:example.com", nil)
	n.Notify(context.Background(), audit.Event{Kind: audit.KindError, Message: "boom"})
	n.Notify(context.Background(), audit.Event{Kind: audit.KindInstanceExited, InstanceID: 1, Message: "exit status 1"})
	n.Close()

	if len(sender.notices) != 2 {
		t.Fatalf("expected both notices attempted, got %d", len(sender.notices))
	}
}

func TestMatrixNotifier_NotifyAfterClose(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com", nil)
	n.Close()
	n.Close()
	n.Notify(context.Background(), audit.Event{Kind: audit.KindInstanceCreated, Message: "late"})

	if len(sender.notices) != 0 {
		t.Errorf("expected no notices after Close, got %d", len(sender.notices))
	}
}

func TestNoop(t *testing.T) {
	var n audit.Notifier = audit.Noop{}
	n.Notify(context.Background(), audit.Event{Kind: audit.KindInstanceCreated})
}

func TestFormatWithoutInstance(t *testing.T) {
	msg := audit.Format(audit.Event{Kind: audit.KindError, Message: "database unavailable"})
	if !strings.Contains(msg, "error: database unavailable") {
		t.Errorf("got %q", msg)
	}
	if strings.Contains(msg, "trace:") {
		t.Errorf("no trace line expected: %q", msg)
	}
}

func TestMatrixSender_PostsNoticeEvent(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		gotBody = buf.String()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"event_id":"$abc"}`))
	}))
	defer srv.Close()

	sender, err := audit.NewMatrixSender(srv.URL, "@runner:example.com", "token")
	if err != nil {
		t.Fatalf("NewMatrixSender: %v", err)
	}
	if err := sender.SendNotice(context.Background(), "!room:example.com", "hello"); err != nil {
		t.Fatalf("SendNotice: %v", err)
	}
	if !strings.Contains(gotPath, "/rooms/!room:example.com/send/m.room.message/") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if !strings.Contains(gotBody, `"msgtype":"m.notice"`) || !strings.Contains(gotBody, `"body":"hello"`) {
		t.Errorf("unexpected body %q", gotBody)
	}
}
