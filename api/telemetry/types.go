package telemetry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Severity mirrors the envelope severity levels.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Validate enforces supported severities.
func (s Severity) Validate() error {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", s)
	}
}

// Rank orders severities for load-shedding decisions; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo:
		return 1
	case SeverityWarn:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// NormalizeSeverity lowercases and validates a raw severity string.
func NormalizeSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Source identifies the producing tier of an event.
type Source struct {
	Component string `json:"component"`
	Channel   string `json:"channel"`
	Version   string `json:"version"`
}

// Validate enforces source completeness.
func (s Source) Validate() error {
	if strings.TrimSpace(s.Component) == "" {
		return fmt.Errorf("source.component is required")
	}
	if strings.TrimSpace(s.Channel) == "" {
		return fmt.Errorf("source.channel is required")
	}
	return nil
}

// Correlation carries the cross-tier trace lineage of an event.
type Correlation struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// Validate enforces correlation completeness.
func (c Correlation) Validate() error {
	if len(c.TraceID) != 32 {
		return fmt.Errorf("correlation.trace_id must be 32 hex characters")
	}
	if len(c.SpanID) != 16 {
		return fmt.Errorf("correlation.span_id must be 16 hex characters")
	}
	return nil
}

// Registered event types, one per producing concern.
const (
	EventEditorAction     = "editor.action.v1"
	EventEditorError      = "editor.error.v1"
	EventEditorPerf       = "editor.performance.v1"
	EventAgentDecision    = "agent.decision.v1"
	EventAgentValidation  = "agent.validation.v1"
	EventAgentRetrieval   = "agent.retrieval.v1"
	EventAgentEvaluation  = "agent.evaluation.v1"
	EventAgentError       = "agent.error.v1"
	EventBackendRequest   = "backend.request.v1"
	EventBackendError     = "backend.error.v1"
	EventCIRun            = "ci.run.v1"
	EventPrivacyAudit     = "privacy.audit.v1"
	EventAlertFeedback    = "alert.feedback.v1"
)

// EventTypes returns the full registered event-type list in declaration order.
func EventTypes() []string {
	return []string{
		EventEditorAction,
		EventEditorError,
		EventEditorPerf,
		EventAgentDecision,
		EventAgentValidation,
		EventAgentRetrieval,
		EventAgentEvaluation,
		EventAgentError,
		EventBackendRequest,
		EventBackendError,
		EventCIRun,
		EventPrivacyAudit,
		EventAlertFeedback,
	}
}

var eventTypePattern = regexp.MustCompile(`^([a-z][a-z0-9_]*)\.([a-z][a-z0-9_]*)\.v([1-9][0-9]*)$`)

// ParseEventType splits a `{category}.{subcategory}.v{n}` event type into
// its version-free family and major version.
func ParseEventType(eventType string) (family string, version int, err error) {
	m := eventTypePattern.FindStringSubmatch(eventType)
	if m == nil {
		return "", 0, fmt.Errorf("invalid event type: %q", eventType)
	}
	version, err = strconv.Atoi(m[3])
	if err != nil {
		return "", 0, fmt.Errorf("invalid event type version: %q", eventType)
	}
	return m[1] + "." + m[2], version, nil
}

// Event is the common envelope wrapping every telemetry event.
type Event struct {
	EventID     string         `json:"event_id"`
	EventTime   time.Time      `json:"event_time"`
	EventType   string         `json:"event_type"`
	Severity    Severity       `json:"severity"`
	Source      Source         `json:"source"`
	Correlation Correlation    `json:"correlation"`
	Payload     map[string]any `json:"payload"`

	// ObservedTime is stamped by the collector at enrichment, never by
	// producers.
	ObservedTime time.Time `json:"observed_time,omitzero"`
}

// Validate enforces envelope completeness. Payload shape is validated
// separately against the registered contract for the declared event type.
func (e Event) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventTime.IsZero() {
		return fmt.Errorf("event_time is required")
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("event_type is required")
	}
	if _, _, err := ParseEventType(e.EventType); err != nil {
		return err
	}
	if err := e.Severity.Validate(); err != nil {
		return err
	}
	if err := e.Source.Validate(); err != nil {
		return err
	}
	if err := e.Correlation.Validate(); err != nil {
		return err
	}
	if e.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// Clone returns a deep copy of the event with an independent payload map.
func (e Event) Clone() Event {
	out := e
	out.Payload = clonePayload(e.Payload)
	return out
}

func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = clonePayload(nested)
			continue
		}
		out[k] = v
	}
	return out
}
