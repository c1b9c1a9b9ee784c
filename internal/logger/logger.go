package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Logger is a structured logger wrapper around slog
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger writing to stdout with the specified log level
func New(level string) *Logger {
	return NewWithFormat(level, "json", os.Stdout)
}

// NewWithFormat creates a logger with the given level and output format ("json" or "text")
func NewWithFormat(level, format string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
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

// WithFields creates a child logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
	}
}

// ForAccount creates a child logger tagged with an account id
func (l *Logger) ForAccount(accountID string) *Logger {
	return l.WithFields("account_id", accountID)
}

// ErrorLogger adapts the logger for libraries that expect a *log.Logger.
// Every line is written at error level.
func (l *Logger) ErrorLogger() *log.Logger {
	return slog.NewLogLogger(l.Handler(), slog.LevelError)
}
