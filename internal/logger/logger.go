// Package logger builds the process slog logger from CLI settings.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %s", level)
}

// New returns a logger writing to w in the given format (text or json).
// Debug loggers also record the source location and pid.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %s", format)
	}
	logger := slog.New(h)
	if lvl == slog.LevelDebug {
		logger = logger.With(slog.Int("pid", os.Getpid()))
	}
	return logger, nil
}
