package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// maxLineLength forces out a line that never ends.
const maxLineLength = 64 << 10

// lineLogger is the sink of a child's stdout or stderr. Every complete line
// becomes one log record.
type lineLogger struct {
	logger *slog.Logger
	level  slog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineLogger(logger *slog.Logger, level slog.Level) *lineLogger {
	return &lineLogger{logger: logger, level: level}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			if w.buf.Len() >= maxLineLength {
				w.emit(w.buf.Next(w.buf.Len()))
			}
			return len(p), nil
		}
		w.emit(w.buf.Next(i + 1))
	}
}

// Flush logs a trailing line that was not newline-terminated.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Next(w.buf.Len()))
	}
}

func (w *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return
	}
	w.logger.Log(context.Background(), w.level, "supervisor: process output", "line", string(line))
}

// logFile is the on-disk copy of a process's output. stdout and stderr share
// it. After the first write error the file is ignored so the process keeps
// running with logger output only.
type logFile struct {
	logger *slog.Logger

	mu     sync.Mutex
	f      *os.File
	failed bool
}

// openLogFile creates path, replacing the output of an earlier run.
func openLogFile(path string, logger *slog.Logger) (*logFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &logFile{logger: logger, f: f}, nil
}

func (l *logFile) write(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed || l.f == nil {
		return
	}
	if _, err := l.f.Write(p); err != nil {
		l.failed = true
		l.logger.Error("supervisor: log file write failed", "path", l.f.Name(), "err", err)
	}
}

// tee returns a writer that copies into the file before passing p to next.
func (l *logFile) tee(next io.Writer) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		l.write(p)
		return next.Write(p)
	})
}

// Close is safe on a nil logFile and when called twice.
func (l *logFile) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		l.f.Close()
		l.f = nil
	}
}

type writerFunc func(p []byte) (int, error)

func (fn writerFunc) Write(p []byte) (int, error) { return fn(p) }
