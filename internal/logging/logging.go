package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level backs the default logger so the verbosity can change after Init,
// for example when the config file is reloaded.
var level = new(slog.LevelVar)

// Init sets the package-level default slog logger, writing to stderr.
// When json is true it uses a JSONHandler, which keeps diagnostics
// machine-readable next to NDJSON predictions on stdout; otherwise a
// TextHandler.
func Init(json bool, lvl slog.Level) {
	slog.SetDefault(New(os.Stderr, json, lvl))
}

// New builds a logger on w that shares the runtime-adjustable level.
func New(w io.Writer, json bool, lvl slog.Level) *slog.Logger {
	level.Set(lvl)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetLevel changes the level of every logger built by Init or New.
func SetLevel(lvl slog.Level) {
	if level.Level() != lvl {
		slog.Info("log level changed", "from", level.Level().String(), "to", lvl.String())
	}
	level.Set(lvl)
}

// ParseLevel converts a string ("debug", "info", "warn", "error") to slog.Level.
// Unknown strings default to LevelInfo.
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
