package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func requirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests rely on POSIX utilities")
	}
}

func newTestSupervisor(t *testing.T, opts ...Option) *Supervisor {
	t.Helper()
	s := New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func handle(s *Supervisor, id int) *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

func waitExited(t *testing.T, p *process) {
	t.Helper()
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit", p.id)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArgs []string
	}{
		{"sleep 30", "sleep", []string{"30"}},
		{"  /usr/bin/true  ", "/usr/bin/true", []string{}},
		{"nginx -g 'daemon off;'", "nginx", []string{"-g", "daemon off;"}},
		{`sh -c "echo a  b"`, "sh", []string{"-c", "echo a  b"}},
		{"java\t-jar server.jar nogui", "java", []string{"-jar", "server.jar", "nogui"}},
	}
	for _, tt := range tests {
		name, args, err := ParseCommand(tt.line)
		if err != nil {
			t.Errorf("ParseCommand(%q): %v", tt.line, err)
			continue
		}
		if name != tt.wantName {
			t.Errorf("ParseCommand(%q) name = %q, want %q", tt.line, name, tt.wantName)
		}
		if strings.Join(args, "|") != strings.Join(tt.wantArgs, "|") || len(args) != len(tt.wantArgs) {
			t.Errorf("ParseCommand(%q) args = %q, want %q", tt.line, args, tt.wantArgs)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	if _, _, err := ParseCommand("   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}
	if _, _, err := ParseCommand(`sh -c "unterminated`); err == nil {
		t.Error("expected error for unbalanced quote")
	}
}

func TestStartTwiceKeepsOneProcess(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t)

	if err := s.StartProcess(1, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	first := handle(s, 1)
	if err := s.StartProcess(1, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("second StartProcess: %v", err)
	}
	if handle(s, 1) != first {
		t.Fatal("second start replaced the live process")
	}
	if got := s.Running(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Running() = %v, want [1]", got)
	}
}

func TestReclaimOnNaturalExit(t *testing.T) {
	requirePOSIX(t)
	var mu sync.Mutex
	var exited []int
	s := newTestSupervisor(t, OnExit(func(id int, err error) {
		mu.Lock()
		defer mu.Unlock()
		exited = append(exited, id)
	}))

	if err := s.StartProcess(7, "true", t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	eventually(t, func() bool { return !s.IsRunning(7) })

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exited) == 1 && exited[0] == 7
	})

	// The slot is free again.
	if err := s.StartProcess(7, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !s.IsRunning(7) {
		t.Fatal("expected restarted process to be running")
	}
}

func TestTerminate(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t)

	if err := s.StartProcess(1, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	p := handle(s, 1)

	if err := s.TerminateProcess(1); err != nil {
		t.Fatalf("TerminateProcess: %v", err)
	}
	if s.IsRunning(1) {
		t.Fatal("expected not running right after terminate")
	}
	waitExited(t, p)

	if err := s.TerminateProcess(1); err != nil {
		t.Fatalf("second TerminateProcess: %v", err)
	}
	if err := s.TerminateProcess(404); err != nil {
		t.Fatalf("TerminateProcess of unknown id: %v", err)
	}
}

func TestStaleWatcherKeepsNewProcess(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t)

	if err := s.StartProcess(1, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	old := handle(s, 1)
	if err := s.TerminateProcess(1); err != nil {
		t.Fatalf("TerminateProcess: %v", err)
	}
	if err := s.StartProcess(1, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	waitExited(t, old)

	// Give the old watcher time to take the lock.
	time.Sleep(50 * time.Millisecond)
	if !s.IsRunning(1) {
		t.Fatal("old watcher removed the new process")
	}
}

func TestStopGraceful(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t, WithGracePeriod(5*time.Second))

	if err := s.StartProcess(1, "sleep 30", t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	p := handle(s, 1)

	start := time.Now()
	if err := s.StopProcess(context.Background(), 1); err != nil {
		t.Fatalf("StopProcess: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("SIGTERM should stop sleep quickly, took %v", elapsed)
	}
	waitExited(t, p)
	eventually(t, func() bool { return !s.IsRunning(1) })

	if err := s.StopProcess(context.Background(), 1); err != nil {
		t.Fatalf("StopProcess of stopped instance: %v", err)
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t, WithGracePeriod(200*time.Millisecond))

	if err := s.StartProcess(1, `sh -c "trap '' TERM; exec sleep 30"`, t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	p := handle(s, 1)
	// Let the shell install its trap before signalling.
	time.Sleep(100 * time.Millisecond)

	if err := s.StopProcess(context.Background(), 1); err != nil {
		t.Fatalf("StopProcess: %v", err)
	}
	if s.IsRunning(1) {
		t.Fatal("expected process to be gone after forced stop")
	}
	waitExited(t, p)
}

func TestStartFailures(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t)

	if err := s.StartProcess(1, "", t.TempDir()); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if err := s.StartProcess(2, "definitely-not-a-binary-lcsm --flag", t.TempDir()); err == nil {
		t.Fatal("expected spawn failure")
	}
	if err := s.StartProcess(3, "sleep 1", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected failure for missing working directory")
	}
	if got := s.Running(); len(got) != 0 {
		t.Fatalf("Running() = %v, want none", got)
	}
}

func TestWorkingDirectory(t *testing.T) {
	requirePOSIX(t)
	s := newTestSupervisor(t)
	dir := t.TempDir()

	if err := s.StartProcess(1, `sh -c "pwd > where.txt"`, dir); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	p := handle(s, 1)
	if p != nil {
		waitExited(t, p)
	}
	eventually(t, func() bool { return !s.IsRunning(1) })

	out, err := os.ReadFile(filepath.Join(dir, "where.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
	if got != want {
		t.Errorf("process ran in %q, want %q", got, want)
	}
}

func TestShutdownKillsEverything(t *testing.T) {
	requirePOSIX(t)
	s := New()
	for id := 1; id <= 3; id++ {
		if err := s.StartProcess(id, "sleep 30", t.TempDir()); err != nil {
			t.Fatalf("StartProcess(%d): %v", id, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := s.Running(); len(got) != 0 {
		t.Fatalf("Running() = %v after shutdown", got)
	}
}

func TestOutputLogFile(t *testing.T) {
	requirePOSIX(t)
	logDir := filepath.Join(t.TempDir(), "Logs")
	s := newTestSupervisor(t, WithLogDir(logDir))

	path := s.LogPath(3)
	if want := filepath.Join(logDir, "3.log"); path != want {
		t.Fatalf("LogPath = %q, want %q", path, want)
	}

	if err := s.StartProcess(3, `sh -c 'echo out; echo err >&2'`, t.TempDir()); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	eventually(t, func() bool { return !s.IsRunning(3) })

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "out\n") || !strings.Contains(string(data), "err\n") {
		t.Fatalf("log file = %q, want both streams", data)
	}

	if err := s.StartProcess(3, "echo second", t.TempDir()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	eventually(t, func() bool { return !s.IsRunning(3) })

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "second\n" {
		t.Fatalf("log file after restart = %q, want %q", data, "second\n")
	}
}

func TestNoLogDirMeansNoLogPath(t *testing.T) {
	s := New()
	if got := s.LogPath(1); got != "" {
		t.Fatalf("LogPath = %q, want empty", got)
	}
}

func TestLineLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := newLineLogger(logger, slog.LevelInfo)

	w.Write([]byte("hello wo"))
	w.Write([]byte("rld\nsecond\r\n\nthird"))
	if strings.Contains(buf.String(), "third") {
		t.Fatal("incomplete line logged before flush")
	}
	w.Flush()

	out := buf.String()
	for _, want := range []string{`line="hello world"`, "line=second", "line=third"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 3 {
		t.Errorf("got %d records, want 3:\n%s", n, out)
	}
}
