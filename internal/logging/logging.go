// Package logging splits kernel output into a status stream and a diagnostic stream.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Level represents the severity of a diagnostic line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// Logger writes progress to the status stream and problems to the diagnostic stream.
// A nil *Logger discards everything.
type Logger struct {
	status *log.Logger
	diag   *log.Logger

	mu     sync.Mutex
	counts map[Level]int
	closer io.Closer
}

// New creates a logger over the given writers.
func New(status, diag io.Writer) *Logger {
	if status == nil {
		status = io.Discard
	}
	if diag == nil {
		diag = io.Discard
	}
	return &Logger{
		status: log.New(status, "", log.LstdFlags),
		diag:   log.New(diag, "", log.LstdFlags),
		counts: make(map[Level]int),
	}
}

// Discard returns a logger that drops all output but still counts diagnostics.
func Discard() *Logger {
	return New(io.Discard, io.Discard)
}

// Open creates a logger whose diagnostic stream is also appended to dir/kernel.log.
func Open(dir string, status, diag io.Writer) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "kernel.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open kernel log: %w", err)
	}
	if diag == nil {
		diag = io.Discard
	}
	l := New(status, io.MultiWriter(diag, f))
	l.closer = f
	return l, nil
}

// Close releases the log file opened by Open.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Printf writes a status line.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.status.Printf(format, args...)
}

// Infof writes an informational diagnostic line.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

// Warnf writes a warning diagnostic line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

// Errorf writes an error diagnostic line.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

// Fatalf writes a FATAL diagnostic line. Unlike log.Fatalf it does not exit.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.emit(LevelFatal, format, args...)
}

// Count returns how many diagnostics of the level were written.
func (l *Logger) Count(level Level) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[level]
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.counts[level]++
	l.mu.Unlock()
	l.diag.Printf("%-5s %s", level, fmt.Sprintf(format, args...))
}
