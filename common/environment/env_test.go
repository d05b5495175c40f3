package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/lcsm/common/environment"
)

func TestString(t *testing.T) {
	t.Setenv("LCSM_TEST_STRING", "hello")
	got := "default"
	environment.String("LCSM_TEST_STRING", &got)
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	kept := "default"
	environment.String("LCSM_TEST_STRING_MISSING", &kept)
	if kept != "default" {
		t.Errorf("got %q, want %q", kept, "default")
	}
}

func TestStringBlankKeepsValue(t *testing.T) {
	t.Setenv("LCSM_TEST_BLANK", "   ")
	got := "default"
	environment.String("LCSM_TEST_BLANK", &got)
	if got != "default" {
		t.Errorf("got %q, want %q", got, "default")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("LCSM_TEST_BOOL", "true")
	var got bool
	if err := environment.Bool("LCSM_TEST_BOOL", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("expected true")
	}

	t.Setenv("LCSM_TEST_BOOL", "maybe")
	if err := environment.Bool("LCSM_TEST_BOOL", &got); err == nil {
		t.Error("expected error for malformed boolean")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("LCSM_TEST_INT", "42")
	got := 7
	if err := environment.Int("LCSM_TEST_INT", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	t.Setenv("LCSM_TEST_INT", "forty-two")
	if err := environment.Int("LCSM_TEST_INT", &got); err == nil {
		t.Error("expected error for malformed integer")
	}
	if got != 42 {
		t.Errorf("value changed on error: got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("LCSM_TEST_DURATION", "1m30s")
	got := time.Second
	if err := environment.Duration("LCSM_TEST_DURATION", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 90*time.Second {
		t.Errorf("got %v, want 1m30s", got)
	}

	t.Setenv("LCSM_TEST_DURATION", "soon")
	if err := environment.Duration("LCSM_TEST_DURATION", &got); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestRequired(t *testing.T) {
	t.Setenv("LCSM_TEST_REQUIRED", "value")
	v, err := environment.Required("LCSM_TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("got %q, want %q", v, "value")
	}

	if _, err := environment.Required("LCSM_TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable, got nil")
	}
}
