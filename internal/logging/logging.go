// Package logging builds the slog loggers used by the CLI and daemon:
// colored output on a terminal, plain text to files.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a config string to a slog level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForTerminal returns a logger for interactive use: colored when f is
// a terminal, plain text otherwise.
func ForTerminal(f *os.File, level slog.Level) *slog.Logger {
	if isTerminal(f) {
		return slog.New(tint.NewHandler(f, &tint.Options{Level: level}))
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
}

// ForFile returns a plain-text logger for a daemon log file.
func ForFile(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
