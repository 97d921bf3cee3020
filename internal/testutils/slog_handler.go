package testutils

import (
	"context"
	"log/slog"
	"sync"
)

// LogEntry is a flattened log record.
type LogEntry map[string]any

// CaptureHandler is a memory-backed slog.Handler. Attributes added with
// WithAttrs are carried into every entry.
type CaptureHandler struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	attrs   []slog.Attr
}

// NewCaptureHandler creates an empty handler.
func NewCaptureHandler() *CaptureHandler {
	return &CaptureHandler{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
}

// NewCaptureLogger returns a logger writing into a new handler.
func NewCaptureLogger() (*slog.Logger, *CaptureHandler) {
	h := NewCaptureHandler()
	return slog.New(h), h
}

func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{"level": r.Level.String(), "message": r.Message}
	for _, a := range h.attrs {
		entry[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.entries = append(*h.entries, entry)
	return nil
}

func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

// Entries returns a copy of every captured entry.
func (h *CaptureHandler) Entries() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogEntry(nil), *h.entries...)
}

// Messages returns the messages of entries at the given level.
func (h *CaptureHandler) Messages(level slog.Level) []string {
	var out []string
	for _, e := range h.Entries() {
		if e["level"] == level.String() {
			out = append(out, e["message"].(string))
		}
	}
	return out
}
