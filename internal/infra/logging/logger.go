// Package logging builds the controller's structured logger.
// Records go to an optional console writer and to <root>/logs/<team>/controller.log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/runoshun/crewteam/internal/domain"
)

// Logger owns the controller log file and hands out slog loggers writing to it.
// Fields are ordered to minimize memory padding.
type Logger struct {
	file    *os.File
	console io.Writer
	path    string
	mu      sync.Mutex
	level   slog.Level
}

// New opens <logsDir>/controller.log for appending. An empty logsDir
// disables the file; a nil console disables console output.
func New(logsDir string, level slog.Level, console io.Writer) (*Logger, error) {
	l := &Logger{console: console, level: level}
	if logsDir == "" {
		return l, nil
	}
	if err := os.MkdirAll(logsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	l.path = domain.ControllerLogPath(logsDir)
	// G302: Log files are append-only and need read access by the team owner
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // Log file readable by owner and group
	if err != nil {
		return nil, fmt.Errorf("open controller log file: %w", err)
	}
	l.file = f
	return l, nil
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Slog returns a text-format slog.Logger writing through l.
func (l *Logger) Slog() *slog.Logger {
	if l.file == nil && l.console == nil {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(l, &slog.HandlerOptions{Level: l.level}))
}

// Path returns the log file path, or "" when file logging is disabled.
func (l *Logger) Path() string {
	return l.path
}

// Write writes one formatted record to every destination.
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.console != nil {
		_, _ = l.console.Write(p)
	}
	if l.file != nil {
		if _, err := l.file.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
