package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is an in-flight span. A nil *Span is valid and records nothing.
type Span struct {
	c    *Collector
	mu   sync.Mutex
	data SpanData
	done bool
}

// StartSpan opens a span as a child of the span in ctx, or as the root of a
// new trace.
func (c *Collector) StartSpan(ctx context.Context, name, kind string) (context.Context, *Span) {
	if c == nil {
		return ctx, nil
	}
	s := &Span{c: c, data: SpanData{
		ID:        uuid.New(),
		TraceID:   uuid.New(),
		Name:      name,
		Kind:      kind,
		StartTime: time.Now().UTC(),
	}}
	if parent, ok := ctx.Value(spanKey{}).(*Span); ok && parent != nil {
		s.data.TraceID = parent.data.TraceID
		pid := parent.data.ID
		s.data.ParentID = &pid
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// TraceID returns the trace id, or uuid.Nil for a nil span.
func (s *Span) TraceID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.data.TraceID
}

// SetAttr records an attribute. Strings are truncated for export.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	if str, ok := value.(string); ok {
		value = truncatePreview(str)
	}
	s.mu.Lock()
	if s.data.Attributes == nil {
		s.data.Attributes = make(map[string]any)
	}
	s.data.Attributes[key] = value
	s.mu.Unlock()
}

// End finishes the span; err marks it failed. Later calls are ignored.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.data.EndTime = time.Now().UTC()
	s.data.Status = "ok"
	if err != nil {
		s.data.Status = "error"
		s.data.Error = err.Error()
	}
	data := s.data
	s.mu.Unlock()

	s.c.EmitSpan(data)
}
