package otelexport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/querydesk/internal/tracing"
)

func TestUUIDToTraceID(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	tid := uuidToTraceID(id)
	if tid == (trace.TraceID{}) {
		t.Error("expected non-zero trace ID")
	}
	if [16]byte(tid) != [16]byte(id) {
		t.Error("trace id should carry the UUID bytes")
	}
}

func TestUUIDToSpanID(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	sid := uuidToSpanID(id)
	for i := 0; i < 8; i++ {
		if sid[i] != id[8+i] {
			t.Errorf("byte %d: expected %02x, got %02x", i, id[8+i], sid[i])
		}
	}

	other := uuidToSpanID(uuid.MustParse("550e8400-e29b-41d4-b827-557766550001"))
	if sid == other {
		t.Error("different UUIDs should produce different span IDs")
	}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestServiceName(t *testing.T) {
	if got := serviceName(Config{}); got != "querydesk" {
		t.Errorf("default service name = %q", got)
	}
	if got := serviceName(Config{ServiceName: "desk-prod"}); got != "desk-prod" {
		t.Errorf("service name = %q", got)
	}
}

func TestNilExporter(t *testing.T) {
	var exp *Exporter
	exp.ExportSpans(context.Background(), []tracing.SpanData{{
		ID: uuid.New(), TraceID: uuid.New(), Kind: tracing.KindStage, Name: "agent", StartTime: time.Now(),
	}})
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSpanAttributes(t *testing.T) {
	s := tracing.SpanData{
		ID: uuid.New(), TraceID: uuid.New(), Kind: tracing.KindStage,
		StartTime: time.Unix(0, 0), EndTime: time.Unix(2, 0),
		Attributes: map[string]any{
			"session":    "s1",
			"iterations": 3,
			"cached":     true,
			"tools":      []string{"run_sql_query"},
			"other":      struct{ A int }{1},
		},
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spanAttributes(s) {
		got[kv.Key] = kv.Value
	}
	if got["querydesk.duration_ms"].AsInt64() != 2000 {
		t.Errorf("duration = %v", got["querydesk.duration_ms"])
	}
	if got["querydesk.session"].AsString() != "s1" || got["querydesk.iterations"].AsInt64() != 3 || !got["querydesk.cached"].AsBool() {
		t.Errorf("attributes = %v", got)
	}
	if tools := got["querydesk.tools"].AsStringSlice(); len(tools) != 1 {
		t.Errorf("tools = %v", tools)
	}
	if got["querydesk.other"].AsString() != "{1}" {
		t.Errorf("other = %v", got["querydesk.other"])
	}
}
