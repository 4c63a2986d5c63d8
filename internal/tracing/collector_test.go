package tracing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type memExporter struct {
	mu       sync.Mutex
	spans    []SpanData
	shutdown bool
}

func (m *memExporter) ExportSpans(_ context.Context, spans []SpanData) {
	m.mu.Lock()
	m.spans = append(m.spans, spans...)
	m.mu.Unlock()
}

func (m *memExporter) Shutdown(context.Context) error {
	m.shutdown = true
	return nil
}

func TestCollector_SpansAreNestedAndExported(t *testing.T) {
	c := NewCollector()
	exp := &memExporter{}
	c.SetExporter(exp)
	c.Start()

	ctx, root := c.StartSpan(context.Background(), "turn", KindTurn)
	root.SetAttr("session", "s1")
	_, child := c.StartSpan(ctx, "agent", KindStage)
	child.End(errors.New("provider down"))
	child.End(nil) // ignored
	root.End(nil)

	c.Stop()

	if !exp.shutdown {
		t.Error("exporter should be shut down")
	}
	if len(exp.spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(exp.spans))
	}
	if c.Flushed() != 2 {
		t.Errorf("Flushed() = %d", c.Flushed())
	}

	var gotChild, gotRoot SpanData
	for _, s := range exp.spans {
		if s.Name == "agent" {
			gotChild = s
		} else {
			gotRoot = s
		}
	}
	if gotChild.TraceID != gotRoot.TraceID {
		t.Error("child should share the root trace id")
	}
	if gotChild.ParentID == nil || *gotChild.ParentID != gotRoot.ID {
		t.Error("child parent id should be the root span id")
	}
	if gotChild.Status != "error" || gotChild.Error != "provider down" {
		t.Errorf("child status = %q %q", gotChild.Status, gotChild.Error)
	}
	if gotRoot.Status != "ok" || gotRoot.Attributes["session"] != "s1" {
		t.Errorf("root = %+v", gotRoot)
	}
	if gotRoot.EndTime.Before(gotRoot.StartTime) {
		t.Error("end before start")
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.Start()
	ctx, span := c.StartSpan(context.Background(), "turn", KindTurn)
	span.SetAttr("k", "v")
	span.End(nil)
	c.EmitSpan(SpanData{})
	c.Stop()
	if SpanFromContext(ctx) != nil {
		t.Error("nil collector should not attach spans")
	}
}

func TestTruncatePreview(t *testing.T) {
	long := strings.Repeat("ñ", 400) // 800 bytes
	got := truncatePreview(long)
	if !strings.HasSuffix(got, "...") || len(got) > previewMaxLen+3 {
		t.Errorf("len = %d", len(got))
	}
	if strings.ContainsRune(strings.TrimSuffix(got, "..."), '�') {
		t.Error("truncation split a rune")
	}
	if truncatePreview("short") != "short" {
		t.Error("short strings must be unchanged")
	}
}
