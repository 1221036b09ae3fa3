// Package logging provides structured logging for the conductor daemon.
// It wraps log/slog to produce JSON-formatted logs with persistent
// attributes (session, component) for post-hoc analysis.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log levels supported by the logger.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger provides structured logging with persistent attributes.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
	attrs  []slog.Attr
}

// New creates a Logger that writes JSON logs to the given writer at the
// given level. If the writer implements io.Closer, Close will close it.
func New(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	closer, _ := w.(io.Closer)
	return &Logger{
		logger: slog.New(handler),
		closer: closer,
	}
}

// NewFile creates a Logger that writes to a size-rotated log file at the
// given path. If path is empty, logs go to stderr.
func NewFile(path, level string, rotation RotationConfig) (*Logger, error) {
	if path == "" {
		return New(os.Stderr, level), nil
	}
	rw, err := NewRotatingWriter(path, rotation)
	if err != nil {
		return nil, err
	}
	return New(rw, level), nil
}

// parseLevel converts a level string to slog.Level, defaulting to INFO.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession returns a child Logger with the session ID on every entry.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.withAttr(slog.String("session_id", sessionID))
}

// WithThread returns a child Logger with the chat thread ID on every entry.
func (l *Logger) WithThread(threadID string) *Logger {
	return l.withAttr(slog.String("thread_id", threadID))
}

// WithComponent returns a child Logger with the component name on every
// entry. Components include "scheduler", "store", "recovery", "deadlock".
func (l *Logger) WithComponent(component string) *Logger {
	return l.withAttr(slog.String("component", component))
}

// With returns a child Logger with arbitrary alternating key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	attrs = append(attrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return &Logger{logger: l.logger, closer: l.closer, attrs: attrs}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	attrs := make([]slog.Attr, len(l.attrs)+1)
	copy(attrs, l.attrs)
	attrs[len(l.attrs)] = attr
	return &Logger{logger: l.logger, closer: l.closer, attrs: attrs}
}

// Debug logs at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	all := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		all = append(all, attr.Key, attr.Value.Any())
	}
	all = append(all, args...)
	l.logger.Log(context.Background(), level, msg, all...)
}

// Close closes the underlying writer if it is closable. Safe to call on
// loggers writing to stderr.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Nop returns a Logger that discards all output. Useful in tests.
func Nop() *Logger {
	return New(io.Discard, LevelError)
}

// ParseLevel normalizes a level string, defaulting to INFO.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
