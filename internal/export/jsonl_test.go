package export

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

func sampleEvent(id string) telemetry.Event {
	return telemetry.Event{
		EventID:   id,
		EventTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EventType: telemetry.EventEditorAction,
		Severity:  telemetry.SeverityInfo,
		Source:    telemetry.Source{Component: "editor", Channel: "ui", Version: "1.0.0"},
		Correlation: telemetry.Correlation{
			TraceID: strings.Repeat("ab", 16),
			SpanID:  strings.Repeat("cd", 8),
		},
		Payload: map[string]any{"action": "save"},
	}
}

func TestJSONLFileSinkRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events", "out.jsonl")
	sink := &JSONLFileSink{Path: path}
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		if err := sink.Export(context.Background(), sampleEvent(id)); err != nil {
			t.Fatalf("export %s: %v", id, err)
		}
	}

	events, err := ReadJSONLEvents(path)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].EventID != "evt-2" {
		t.Fatalf("append order lost: %+v", events)
	}
	if events[0].Payload["action"] != "save" {
		t.Fatalf("payload lost in round trip: %+v", events[0].Payload)
	}
}

func TestJSONLFileSinkRequiresPath(t *testing.T) {
	t.Parallel()

	sink := &JSONLFileSink{}
	if err := sink.Export(context.Background(), sampleEvent("evt-1")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}
