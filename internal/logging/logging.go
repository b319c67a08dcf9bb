// internal/logging/logging.go
package logging

import (
	"context"
	"log/slog"
	"os"
)

// MultiHandler fans log records out to several handlers: text on stdout for
// operators, JSON to a file for ingestion.
type MultiHandler struct {
	handlers []slog.Handler
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}

// Init installs the default logger. When logFile is empty only stdout is used.
func Init(logFile string) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	stdoutHandler := slog.NewTextHandler(os.Stdout, opts)

	if logFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		slog.Error("failed to open log file", slog.Any("error", err))
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	jsonHandler := slog.NewJSONHandler(f, opts)
	slog.SetDefault(slog.New(&MultiHandler{handlers: []slog.Handler{stdoutHandler, jsonHandler}}))
}
