// Package logger provides structured logging utilities.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with evaluation context helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to w with the given level and format.
// format is "json" or "text"; a nil writer means stderr.
func New(level, format string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level text logger on stderr.
func Default() *Logger {
	return New("info", "text", os.Stderr)
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.With("error", err.Error())}
}

// WithItem returns a logger scoped to one evaluated item.
func (l *Logger) WithItem(itemID string) *Logger {
	return &Logger{Logger: l.With("item_id", itemID)}
}

// WithComponent returns a logger tagged with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With("component", name)}
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
