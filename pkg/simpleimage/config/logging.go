package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a text or json slog logger at level
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Logger returns a stdout logger configured from LogLevel and LogFormat
func (c *ServerConfig) Logger() *slog.Logger {
	return NewLogger(os.Stdout, c.LogLevel, c.LogFormat)
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else is info
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
