// Package logging builds the structured slog loggers used across charmem.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a structured logger. format is "json" or "text". Pass a
// *slog.LevelVar as level to change it at runtime.
func New(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// Owner returns l annotated with the memory owner.
func Owner(l *slog.Logger, userID, characterID string) *slog.Logger {
	return OrDefault(l).With(
		slog.String("user_id", userID),
		slog.String("character_id", characterID),
	)
}
