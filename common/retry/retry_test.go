package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bdobrica/lcsm/common/retry"
)

func fast(attempts int) retry.Backoff {
	return retry.Backoff{Attempts: attempts, Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestValue_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	v, err := retry.Value(context.Background(), fast(3), func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if v != 7 {
		t.Fatalf("got %d, want 7", v)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestValue_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	v, err := retry.Value(context.Background(), fast(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil after eventual success, got %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", v, calls)
	}
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := retry.Do(context.Background(), fast(4), func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	permanent := errors.New("refused for good")
	b := fast(5)
	b.Permanent = func(err error) bool { return errors.Is(err, permanent) }

	calls := 0
	err := retry.Do(context.Background(), b, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Do(ctx, fast(5), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if calls != 0 {
		t.Fatalf("expected no calls with cancelled context, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := retry.Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{12, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
