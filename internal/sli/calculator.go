package sli

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/slo"
	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

// ErrUnknownSLI signals a computation request for an unregistered SLI.
var ErrUnknownSLI = errors.New("unknown sli")

// Window bounds one SLI computation. Events are included when
// event_time is in [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports window membership.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Config carries the deployment-time SLI thresholds.
type Config struct {
	RetrievalRelevanceMin float64
	RetrievalMaxAgeMS     float64
	EvaluationScoreFloor  float64
	ErrorRequiredContext  []string
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() Config {
	return Config{
		RetrievalRelevanceMin: 0.7,
		RetrievalMaxAgeMS:     60_000,
		EvaluationScoreFloor:  0.5,
		ErrorRequiredContext:  []string{"error_kind", "message", "stack_hash"},
	}
}

// Calculator computes the seven indicators. Every computation is a pure
// function of the event set and window bounds; recomputing over the same
// range yields bit-identical output.
type Calculator struct {
	cfg Config
}

// NewCalculator returns a calculator with the given thresholds.
func NewCalculator(cfg Config) Calculator {
	return Calculator{cfg: cfg}
}

// Compute evaluates one SLI over the window. For the latency SLI the p95
// value is returned; LatencyDistribution exposes all quantiles.
func (c Calculator) Compute(sliID string, events []telemetry.Event, window Window) (slo.SLIValue, error) {
	switch sliID {
	case slo.SLIDecisionSuccess:
		return c.DecisionSuccessRate(events, window), nil
	case slo.SLILatency:
		values := c.LatencyDistribution(events, window).Values()
		return values[1], nil
	case slo.SLIErrorCoverage:
		return c.ErrorCaptureCoverage(events, window), nil
	case slo.SLIValidationPass:
		return c.ValidationPassRate(events, window), nil
	case slo.SLIRetrievalCompliance:
		return c.RetrievalCompliance(events, window), nil
	case slo.SLIEvaluationQuality:
		return c.EvaluationQuality(events, window), nil
	case slo.SLIFalsePositiveRate:
		return c.FalsePositiveRate(events, window), nil
	default:
		return slo.SLIValue{}, fmt.Errorf("%w: %q", ErrUnknownSLI, sliID)
	}
}

// DecisionSuccessRate is count(status in {pass,warn}) over all decisions.
func (c Calculator) DecisionSuccessRate(events []telemetry.Event, window Window) slo.SLIValue {
	var num, den float64
	for _, event := range filter(events, window, telemetry.EventAgentDecision) {
		den++
		if status, ok := stringField(event.Payload, "status"); ok && (status == "pass" || status == "warn") {
			num++
		}
	}
	return ratio(slo.SLIDecisionSuccess, window, num, den)
}

// ErrorCaptureCoverage is count(errors with full required context) over
// all captured errors.
func (c Calculator) ErrorCaptureCoverage(events []telemetry.Event, window Window) slo.SLIValue {
	var num, den float64
	for _, event := range filter(events, window,
		telemetry.EventEditorError, telemetry.EventAgentError, telemetry.EventBackendError) {
		den++
		if hasAllFields(event.Payload, c.cfg.ErrorRequiredContext) {
			num++
		}
	}
	return ratio(slo.SLIErrorCoverage, window, num, den)
}

// ValidationPassRate is count(pass=true) over all validation results.
func (c Calculator) ValidationPassRate(events []telemetry.Event, window Window) slo.SLIValue {
	var num, den float64
	for _, event := range filter(events, window, telemetry.EventAgentValidation) {
		den++
		if pass, ok := boolField(event.Payload, "pass"); ok && pass {
			num++
		}
	}
	return ratio(slo.SLIValidationPass, window, num, den)
}

// RetrievalCompliance is count(retrievals meeting relevance and
// timeliness thresholds) over all retrievals.
func (c Calculator) RetrievalCompliance(events []telemetry.Event, window Window) slo.SLIValue {
	var num, den float64
	for _, event := range filter(events, window, telemetry.EventAgentRetrieval) {
		den++
		relevance, okRelevance := numberField(event.Payload, "relevance")
		ageMS, okAge := numberField(event.Payload, "age_ms")
		if okRelevance && okAge &&
			relevance >= c.cfg.RetrievalRelevanceMin && ageMS <= c.cfg.RetrievalMaxAgeMS {
			num++
		}
	}
	return ratio(slo.SLIRetrievalCompliance, window, num, den)
}

// EvaluationQuality aggregates scores at or above the floor over the
// evaluation count.
func (c Calculator) EvaluationQuality(events []telemetry.Event, window Window) slo.SLIValue {
	var num, den float64
	for _, event := range filter(events, window, telemetry.EventAgentEvaluation) {
		den++
		if score, ok := numberField(event.Payload, "score"); ok && score >= c.cfg.EvaluationScoreFloor {
			num += score
		}
	}
	return ratio(slo.SLIEvaluationQuality, window, num, den)
}

// FalsePositiveRate is count(flagged items later marked false_positive)
// over all flagged items.
func (c Calculator) FalsePositiveRate(events []telemetry.Event, window Window) slo.SLIValue {
	var num, den float64
	for _, event := range filter(events, window, telemetry.EventAlertFeedback) {
		flagged, ok := boolField(event.Payload, "flagged")
		if !ok || !flagged {
			continue
		}
		den++
		if fp, ok := boolField(event.Payload, "false_positive"); ok && fp {
			num++
		}
	}
	return ratio(slo.SLIFalsePositiveRate, window, num, den)
}

// Distribution is the latency quantile set of a window.
type Distribution struct {
	Window           Window
	P50, P95, P99    float64
	Count            int
	InsufficientData bool
}

// LatencyDistribution computes p50/p95/p99 of the declared duration field
// across performance-sample events.
func (c Calculator) LatencyDistribution(events []telemetry.Event, window Window) Distribution {
	var durations []float64
	for _, event := range filter(events, window, telemetry.EventEditorPerf, telemetry.EventBackendRequest) {
		if duration, ok := numberField(event.Payload, "duration_ms"); ok {
			durations = append(durations, duration)
		}
	}
	if len(durations) == 0 {
		return Distribution{Window: window, InsufficientData: true}
	}
	sort.Float64s(durations)
	return Distribution{
		Window: window,
		P50:    quantile(durations, 0.50),
		P95:    quantile(durations, 0.95),
		P99:    quantile(durations, 0.99),
		Count:  len(durations),
	}
}

// Values renders the distribution as one SLIValue per quantile.
func (d Distribution) Values() []slo.SLIValue {
	entries := []struct {
		label string
		value float64
	}{
		{"p50", d.P50},
		{"p95", d.P95},
		{"p99", d.P99},
	}
	out := make([]slo.SLIValue, 0, len(entries))
	for _, entry := range entries {
		out = append(out, slo.SLIValue{
			SLIID:            slo.SLILatency,
			WindowStart:      d.Window.Start,
			WindowEnd:        d.Window.End,
			Labels:           map[string]string{"percentile": entry.label},
			Numerator:        entry.value,
			Denominator:      float64(d.Count),
			Value:            entry.value,
			InsufficientData: d.InsufficientData,
		})
	}
	return out
}

// ComputeAll evaluates every registered SLI over the window.
func (c Calculator) ComputeAll(events []telemetry.Event, window Window) []slo.SLIValue {
	out := make([]slo.SLIValue, 0, len(slo.SLIIDs()))
	for _, sliID := range slo.SLIIDs() {
		value, err := c.Compute(sliID, events, window)
		if err != nil {
			continue
		}
		out = append(out, value)
	}
	return out
}

// ratio builds a ratio SLIValue, marking zero-denominator windows as
// insufficient data rather than healthy or failing.
func ratio(sliID string, window Window, num, den float64) slo.SLIValue {
	value := slo.SLIValue{
		SLIID:       sliID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Numerator:   num,
		Denominator: den,
	}
	if den == 0 {
		value.InsufficientData = true
		return value
	}
	value.Value = num / den
	return value
}

// quantile is the nearest-rank quantile of sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func filter(events []telemetry.Event, window Window, eventTypes ...string) []telemetry.Event {
	var out []telemetry.Event
	for _, event := range events {
		if !window.Contains(event.EventTime) {
			continue
		}
		for _, eventType := range eventTypes {
			if event.EventType == eventType {
				out = append(out, event)
				break
			}
		}
	}
	return out
}

func stringField(payload map[string]any, key string) (string, bool) {
	value, ok := payload[key].(string)
	return value, ok
}

func boolField(payload map[string]any, key string) (bool, bool) {
	value, ok := payload[key].(bool)
	return value, ok
}

func numberField(payload map[string]any, key string) (float64, bool) {
	switch value := payload[key].(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}

func hasAllFields(payload map[string]any, required []string) bool {
	for _, field := range required {
		value, ok := payload[field]
		if !ok || value == nil {
			return false
		}
		if s, isString := value.(string); isString && s == "" {
			return false
		}
	}
	return true
}
