// Package observability provides herokit's logging and event-recording
// support: dev-gated slog construction and a SQLite-backed event log for
// worker lifecycle and cache maintenance outcomes.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process logger. In dev mode everything down to Debug
// is emitted as human-readable text. Outside dev mode only errors are
// emitted — informational logging is a development affordance, not a
// production output.
func NewLogger(dev bool) *slog.Logger {
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// Silent returns a logger that discards everything. Used in tests that
// assert on behaviour, not output.
func Silent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
