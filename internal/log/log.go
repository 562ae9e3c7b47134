// Package log provides the logging infrastructure for quill.
//
// Components never reach for a global logger; they receive a log.Logger via
// their constructor and add context with With(). Tests inject NewNop() or a
// buffer-backed logger from NewWithWriter().
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a type alias for *slog.Logger so components depend on the
// standard library type directly instead of a bespoke interface.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// JSON enables JSON output. Default: false (text format).
	JSON bool

	// AddSource adds source file information to log entries.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w. Useful for tests that
// inspect output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test use only.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a configuration string to a slog.Level.
// Unknown values fall back to info.
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
