// Package observability provides structured logging, pipeline metrics and
// the Prometheus scrape endpoint.
package observability

import (
	"io"
	"log/slog"
	"strings"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLogger builds a slog logger writing to w in the given format.
// Unknown formats fall back to text.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, LogFormatJSON) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "devyear")
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns a child logger tagged with a component name.
// A nil base yields a discarding logger.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = DiscardLogger()
	}
	return base.With("component", name)
}
