package logger

import (
	"context"
	"log/slog"
	"math/rand"
)

// AsyncHandler buffers records on a channel and writes them from a single
// background goroutine, keeping the logging call non-blocking for callers on
// the hot path (partition loop, message processor).
type AsyncHandler struct {
	next slog.Handler
	ch    chan slog.Record
}

func NewAsyncHandler(next slog.Handler, bufferSize int) *AsyncHandler {
	h := &AsyncHandler{next: next, ch: make(chan slog.Record, bufferSize)}
	go h.loop()
	return h
}

func (h *AsyncHandler) loop() {
	for r := range h.ch {
		_ = h.next.Handle(context.Background(), r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	select {
	case h.ch <- r.Clone():
	default:
		// Buffer full: drop rather than block the caller.
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), ch: h.ch}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), ch: h.ch}
}

// SamplingHandler drops a fraction of records below error level to reduce
// volume under load. Error-level records are never sampled away.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

func NewSamplingHandler(next slog.Handler, rate float64) *SamplingHandler {
	return &SamplingHandler{next: next, rate: rate}
}

func (h *SamplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SamplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError || rand.Float64() < h.rate {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *SamplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SamplingHandler{next: h.next.WithAttrs(attrs), rate: h.rate}
}

func (h *SamplingHandler) WithGroup(name string) slog.Handler {
	return &SamplingHandler{next: h.next.WithGroup(name), rate: h.rate}
}
