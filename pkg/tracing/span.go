// Package tracing records in-process span trees carried in a context. A
// request root span collects the timed steps below it and the whole tree is
// logged only when the request was slow. Span methods are no-ops on a nil
// span, so code below an untraced entry point pays nothing.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed operation.
type Span struct {
	Name    string
	TraceID string
	Start   time.Time

	mu       sync.Mutex
	duration time.Duration
	attrs    []any
	children []*Span
}

// StartSpan begins a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, contextKey{}, s), s
}

// StartChildSpan begins a span under the one in ctx. Without a parent it
// returns ctx and a nil span.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := &Span{Name: name, TraceID: parent.TraceID, Start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, contextKey{}, child), child
}

// SpanFromContext returns the current span of ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// End fixes the span's duration.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.duration = time.Since(s.Start)
	s.mu.Unlock()
}

// SetAttr attaches a key-value attribute.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Duration returns the duration recorded by End.
func (s *Span) Duration() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// LogIfSlow logs the span tree, one record per span, when the span took at
// least threshold. It reports whether it logged.
func (s *Span) LogIfSlow(logger *slog.Logger, threshold time.Duration) bool {
	if s == nil || threshold <= 0 || s.Duration() < threshold {
		return false
	}
	s.log(logger, 0)
	return true
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"depth", depth,
		"duration_ms", float64(s.duration.Microseconds()) / 1000,
	}, s.attrs...)
	children := s.children
	s.mu.Unlock()

	logger.Warn("slow span", attrs...)
	for _, c := range children {
		c.log(logger, depth+1)
	}
}
