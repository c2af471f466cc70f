package ui

import (
	"context"
	"log/slog"
)

// multiHandler fans a single log record out to several slog.Handlers at
// once, letting the CLI write human-readable text to stderr and a
// structured JSON trail to a log file from the same logger, grounded on
// cmd/beam/main.go's --log tee ("logHandler = ui.NewMultiHandler(textHandler, jsonHandler)").
type multiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler returns a slog.Handler that dispatches every record to
// each of handlers.
func NewMultiHandler(handlers ...slog.Handler) slog.Handler {
	return &multiHandler{handlers: handlers}
}

// Enabled reports true if any wrapped handler would accept level, so a
// record is never dropped just because the loudest handler filters it.
func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
