// Package supervisor runs instance processes. It keeps at most one live
// process per instance id, notices when a process exits on its own, and stops
// or kills processes on request.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultGracePeriod is how long StopProcess waits after SIGTERM before
	// killing the process.
	DefaultGracePeriod = 10 * time.Second

	// outputDrainTimeout bounds how long Wait keeps copying output once the
	// process is gone, in case a grandchild inherited the pipes.
	outputDrainTimeout = 2 * time.Second
)

// ExitFunc is told about processes that exited without being stopped or
// terminated through the supervisor.
type ExitFunc func(id int, err error)

type process struct {
	id  int
	cmd *exec.Cmd
	// stdin is held open so children reading it do not see EOF.
	stdin   io.WriteCloser
	started time.Time
	stdout  *lineLogger
	stderr  *lineLogger
	// log is the per-instance output file, nil when no log directory is set.
	log *logFile

	// exited is closed once Wait has returned and the slot is released;
	// err is the result of Wait.
	exited chan struct{}
	err    error

	// stopping is set, under Supervisor.mu, when the supervisor itself asked
	// the process to go away.
	stopping bool
}

// Supervisor owns the id to process map. StartProcess, TerminateProcess,
// IsRunning and exit reclamation each run as one critical section.
type Supervisor struct {
	logger *slog.Logger
	grace  time.Duration
	onExit ExitFunc
	logDir string

	mu    sync.Mutex
	procs map[int]*process

	watchers sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for lifecycle events and process output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay of StopProcess.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithLogDir makes every process also write its stdout and stderr to
// <dir>/<id>.log. The file is truncated each time the process starts.
func WithLogDir(dir string) Option {
	return func(s *Supervisor) { s.logDir = dir }
}

// OnExit registers fn for processes that exit on their own.
func OnExit(fn ExitFunc) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

// New creates a Supervisor with no processes.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger: slog.Default(),
		grace:  DefaultGracePeriod,
		procs:  make(map[int]*process),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartProcess launches launchCommand in workDir for instance id. It does
// nothing if id already has a live process.
func (s *Supervisor) StartProcess(id int, launchCommand, workDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.procs[id]; running {
		s.logger.Debug("supervisor: already running", "instance_id", id)
		return nil
	}

	name, args, err := ParseCommand(launchCommand)
	if err != nil {
		return fmt.Errorf("start instance %d: %w", id, err)
	}

	logger := s.logger.With("instance_id", id)
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir
	stdout := newLineLogger(logger.With("stream", "stdout"), slog.LevelInfo)
	stderr := newLineLogger(logger.With("stream", "stderr"), slog.LevelWarn)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrainTimeout

	var lf *logFile
	if s.logDir != "" {
		lf, err = openLogFile(s.LogPath(id), logger)
		if err != nil {
			return fmt.Errorf("start instance %d: %w", id, err)
		}
		cmd.Stdout = lf.tee(stdout)
		cmd.Stderr = lf.tee(stderr)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		lf.Close()
		return fmt.Errorf("start instance %d: stdin pipe: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		lf.Close()
		return fmt.Errorf("start instance %d: %w", id, err)
	}

	p := &process{
		id:      id,
		cmd:     cmd,
		stdin:   stdin,
		started: time.Now(),
		stdout:  stdout,
		stderr:  stderr,
		log:     lf,
		exited:  make(chan struct{}),
	}
	s.procs[id] = p

	s.watchers.Add(1)
	go s.watch(p, logger)

	logger.Info("supervisor: process started", "pid", cmd.Process.Pid, "command", cmd.String(), "dir", workDir)
	return nil
}

// watch waits for p to exit and frees its slot, unless the slot has been
// taken over by a newer process in the meantime.
func (s *Supervisor) watch(p *process, logger *slog.Logger) {
	defer s.watchers.Done()

	err := p.cmd.Wait()
	p.stdout.Flush()
	p.stderr.Flush()
	p.log.Close()

	s.mu.Lock()
	if cur, ok := s.procs[p.id]; ok && cur == p {
		delete(s.procs, p.id)
	}
	unexpected := !p.stopping
	s.mu.Unlock()

	p.err = err
	close(p.exited)

	uptime := time.Since(p.started).Round(time.Millisecond)
	if !unexpected {
		logger.Info("supervisor: process exited", "uptime", uptime, "err", err)
		return
	}
	logger.Warn("supervisor: process exited on its own", "uptime", uptime, "err", err)
	if s.onExit != nil {
		s.onExit(p.id, err)
	}
}

// TerminateProcess kills the process of instance id and forgets it. It does
// nothing if id has no live process.
func (s *Supervisor) TerminateProcess(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[id]
	if !ok {
		return nil
	}
	delete(s.procs, id)
	p.stopping = true

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate instance %d: %w", id, err)
	}
	s.logger.Info("supervisor: process killed", "instance_id", id, "pid", p.cmd.Process.Pid)
	return nil
}

// StopProcess asks the process of instance id to exit with SIGTERM and kills
// it if it is still alive after the grace period or when ctx is done. It
// does nothing if id has no live process.
func (s *Supervisor) StopProcess(ctx context.Context, id int) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	p.stopping = true
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	s.mu.Unlock()

	logger := s.logger.With("instance_id", id, "pid", p.cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		logger.Warn("supervisor: SIGTERM failed, killing", "err", err)
		return s.kill(p)
	}
	logger.Info("supervisor: SIGTERM sent", "grace", s.grace)

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		logger.Warn("supervisor: grace period elapsed, killing")
		return s.kill(p)
	case <-ctx.Done():
		logger.Warn("supervisor: stop cancelled, killing")
		if err := s.kill(p); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// kill removes p if it still owns its slot and sends SIGKILL.
func (s *Supervisor) kill(p *process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.procs[p.id]; ok && cur == p {
		delete(s.procs, p.id)
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill instance %d: %w", p.id, err)
	}
	return nil
}

// LogPath returns the output log file of instance id, or "" when output is
// only sent to the logger.
func (s *Supervisor) LogPath(id int) string {
	if s.logDir == "" {
		return ""
	}
	return filepath.Join(s.logDir, strconv.Itoa(id)+".log")
}

// IsRunning reports whether instance id has a live process.
func (s *Supervisor) IsRunning(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[id]
	return ok
}

// Running returns the ids with a live process, in ascending order.
func (s *Supervisor) Running() []int {
	s.mu.Lock()
	ids := make([]int, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Ints(ids)
	return ids
}

// Shutdown kills every process and waits for all exit watchers, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	for _, id := range s.Running() {
		if err := s.TerminateProcess(id); err != nil {
			s.logger.Error("supervisor: shutdown", "instance_id", id, "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: waiting for processes: %w", ctx.Err())
	}
}
