package sli

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/tiger/agent-slo-pipeline/api/slo"
	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

var windowStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testWindow(minutes int) Window {
	return Window{Start: windowStart, End: windowStart.Add(time.Duration(minutes) * time.Minute)}
}

func eventAt(eventType string, offset time.Duration, payload map[string]any) telemetry.Event {
	return telemetry.Event{
		EventID:   "evt",
		EventTime: windowStart.Add(offset),
		EventType: eventType,
		Severity:  telemetry.SeverityInfo,
		Source:    telemetry.Source{Component: "agent", Channel: "local", Version: "1.0.0"},
		Correlation: telemetry.Correlation{
			TraceID: strings.Repeat("ab", 16),
			SpanID:  strings.Repeat("cd", 8),
		},
		Payload: payload,
	}
}

func TestDecisionSuccessRateCountsPassAndWarn(t *testing.T) {
	t.Parallel()

	events := []telemetry.Event{
		eventAt(telemetry.EventAgentDecision, time.Minute, map[string]any{"decision_id": "1", "status": "pass"}),
		eventAt(telemetry.EventAgentDecision, time.Minute, map[string]any{"decision_id": "2", "status": "warn"}),
		eventAt(telemetry.EventAgentDecision, time.Minute, map[string]any{"decision_id": "3", "status": "fail"}),
		eventAt(telemetry.EventAgentDecision, time.Minute, map[string]any{"decision_id": "4", "status": "fail"}),
		// Out-of-window decisions are excluded.
		eventAt(telemetry.EventAgentDecision, time.Hour, map[string]any{"decision_id": "5", "status": "pass"}),
	}
	value := NewCalculator(DefaultConfig()).DecisionSuccessRate(events, testWindow(5))
	if value.Denominator != 4 || value.Numerator != 2 {
		t.Fatalf("expected 2/4, got %v/%v", value.Numerator, value.Denominator)
	}
	if value.Value != 0.5 {
		t.Fatalf("expected 0.5, got %v", value.Value)
	}
}

func TestZeroDenominatorYieldsInsufficientData(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultConfig())
	for _, sliID := range slo.SLIIDs() {
		value, err := calc.Compute(sliID, nil, testWindow(5))
		if err != nil {
			t.Fatalf("compute %s: %v", sliID, err)
		}
		if !value.InsufficientData {
			t.Fatalf("%s: zero-traffic window must be insufficient data, got %+v", sliID, value)
		}
		if value.Value != 0 {
			t.Fatalf("%s: insufficient-data value must stay zero, got %+v", sliID, value)
		}
	}
}

func TestLatencyDistributionQuantiles(t *testing.T) {
	t.Parallel()

	var events []telemetry.Event
	for i := 1; i <= 100; i++ {
		events = append(events, eventAt(telemetry.EventBackendRequest, time.Minute, map[string]any{
			"route": "/v1/run", "status_code": 200, "duration_ms": float64(i),
		}))
	}
	dist := NewCalculator(DefaultConfig()).LatencyDistribution(events, testWindow(5))
	if dist.P50 != 50 || dist.P95 != 95 || dist.P99 != 99 {
		t.Fatalf("unexpected quantiles: %+v", dist)
	}
	if dist.Count != 100 {
		t.Fatalf("expected 100 samples, got %d", dist.Count)
	}
}

func TestRetrievalComplianceThresholds(t *testing.T) {
	t.Parallel()

	events := []telemetry.Event{
		eventAt(telemetry.EventAgentRetrieval, time.Minute, map[string]any{"query_id": "1", "relevance": 0.9, "age_ms": 1000.0}),
		eventAt(telemetry.EventAgentRetrieval, time.Minute, map[string]any{"query_id": "2", "relevance": 0.2, "age_ms": 1000.0}),
		eventAt(telemetry.EventAgentRetrieval, time.Minute, map[string]any{"query_id": "3", "relevance": 0.9, "age_ms": 120_000.0}),
	}
	value := NewCalculator(DefaultConfig()).RetrievalCompliance(events, testWindow(5))
	if value.Numerator != 1 || value.Denominator != 3 {
		t.Fatalf("expected 1/3, got %v/%v", value.Numerator, value.Denominator)
	}
}

func TestErrorCaptureCoverageRequiresFullContext(t *testing.T) {
	t.Parallel()

	events := []telemetry.Event{
		eventAt(telemetry.EventAgentError, time.Minute, map[string]any{
			"error_kind": "timeout", "message": "late", "stack_hash": "abc123",
		}),
		eventAt(telemetry.EventAgentError, time.Minute, map[string]any{
			"error_kind": "timeout", "message": "late",
		}),
	}
	value := NewCalculator(DefaultConfig()).ErrorCaptureCoverage(events, testWindow(5))
	if value.Numerator != 1 || value.Denominator != 2 {
		t.Fatalf("expected 1/2, got %v/%v", value.Numerator, value.Denominator)
	}
}

func TestFalsePositiveRateCountsFlaggedOnly(t *testing.T) {
	t.Parallel()

	events := []telemetry.Event{
		eventAt(telemetry.EventAlertFeedback, time.Minute, map[string]any{"alert_id": "a", "flagged": true, "false_positive": true}),
		eventAt(telemetry.EventAlertFeedback, time.Minute, map[string]any{"alert_id": "a", "flagged": true, "false_positive": false}),
		eventAt(telemetry.EventAlertFeedback, time.Minute, map[string]any{"alert_id": "a", "flagged": false}),
	}
	value := NewCalculator(DefaultConfig()).FalsePositiveRate(events, testWindow(5))
	if value.Numerator != 1 || value.Denominator != 2 {
		t.Fatalf("expected 1/2, got %v/%v", value.Numerator, value.Denominator)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultConfig())
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 50).Draw(t, "count")
		events := make([]telemetry.Event, 0, count)
		for i := 0; i < count; i++ {
			status := rapid.SampledFrom([]string{"pass", "warn", "fail"}).Draw(t, "status")
			offset := time.Duration(rapid.IntRange(0, 600).Draw(t, "offset")) * time.Second
			events = append(events, eventAt(telemetry.EventAgentDecision, offset, map[string]any{
				"decision_id": "d", "status": status,
			}))
		}
		window := testWindow(5)
		first, err := calc.Compute(slo.SLIDecisionSuccess, events, window)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		second, err := calc.Compute(slo.SLIDecisionSuccess, events, window)
		if err != nil {
			t.Fatalf("recompute: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("recomputation diverged: %+v vs %+v", first, second)
		}
	})
}
