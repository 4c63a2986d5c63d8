// Package tracing records spans for each turn and its stages and hands them
// to an optional external exporter.
package tracing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	previewMaxLen        = 500
)

// Span kinds.
const (
	KindTurn  = "turn"
	KindStage = "stage"
)

// SpanData is a finished span.
type SpanData struct {
	ID         uuid.UUID
	TraceID    uuid.UUID
	ParentID   *uuid.UUID
	Name       string
	Kind       string
	StartTime  time.Time
	EndTime    time.Time
	Status     string // "ok" or "error"
	Error      string
	Attributes map[string]any
}

// Duration returns EndTime - StartTime.
func (s SpanData) Duration() time.Duration { return s.EndTime.Sub(s.StartTime) }

// SpanExporter is implemented by backends that receive finished spans
// (e.g. OpenTelemetry OTLP). Keeping this as an interface lets the OTel
// dependency live in a separate sub-package behind a build tag.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []SpanData)
	Shutdown(ctx context.Context) error
}

// Collector buffers finished spans and flushes them in batches: to the debug
// log always, and to the exporter when one is attached.
// A nil *Collector is valid and records nothing.
type Collector struct {
	spanCh chan SpanData
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	exporter SpanExporter
	flushed  int
}

func NewCollector() *Collector {
	return &Collector{
		spanCh: make(chan SpanData, defaultBufferSize),
		stopCh: make(chan struct{}),
	}
}

// SetExporter attaches an external span exporter.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.mu.Lock()
	c.exporter = exp
	c.mu.Unlock()
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	if c == nil {
		return
	}
	c.wg.Add(1)
	go c.flushLoop()
	slog.Info("tracing collector started")
}

// Stop flushes remaining spans and shuts the exporter down.
func (c *Collector) Stop() {
	if c == nil {
		return
	}
	close(c.stopCh)
	c.wg.Wait()

	c.mu.RLock()
	exp := c.exporter
	c.mu.RUnlock()
	if exp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exp.Shutdown(ctx); err != nil {
			slog.Warn("tracing: span exporter shutdown failed", "error", err)
		}
	}
	slog.Info("tracing collector stopped")
}

// EmitSpan enqueues a finished span. Non-blocking: drops the span if the
// buffer is full.
func (c *Collector) EmitSpan(span SpanData) {
	if c == nil {
		return
	}
	select {
	case c.spanCh <- span:
	default:
		slog.Warn("tracing: span buffer full, dropping span", "kind", span.Kind, "name", span.Name)
	}
}

// Flushed reports how many spans have been flushed so far.
func (c *Collector) Flushed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flushed
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var spans []SpanData
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
			continue
		default:
		}
		break
	}
	if len(spans) == 0 {
		return
	}

	for _, s := range spans {
		slog.Debug("span",
			"trace", s.TraceID,
			"kind", s.Kind,
			"name", s.Name,
			"status", s.Status,
			"duration_ms", s.Duration().Milliseconds(),
		)
	}

	c.mu.Lock()
	c.flushed += len(spans)
	exp := c.exporter
	c.mu.Unlock()

	if exp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exp.ExportSpans(ctx, spans)
	}
}

// truncatePreview sanitizes and truncates a string to previewMaxLen bytes.
func truncatePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= previewMaxLen {
		return s
	}
	maxLen := previewMaxLen
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
