package slo

import (
	"fmt"
	"strings"
	"time"
)

// Registered SLI identifiers.
const (
	SLIDecisionSuccess     = "sli-a-decision-success"
	SLILatency             = "sli-b-latency"
	SLIErrorCoverage       = "sli-c-error-coverage"
	SLIValidationPass      = "sli-d-validation-pass"
	SLIRetrievalCompliance = "sli-e-retrieval-compliance"
	SLIEvaluationQuality   = "sli-f-evaluation-quality"
	SLIFalsePositiveRate   = "sli-g-false-positive-rate"
)

// SLIIDs returns every registered SLI identifier.
func SLIIDs() []string {
	return []string{
		SLIDecisionSuccess,
		SLILatency,
		SLIErrorCoverage,
		SLIValidationPass,
		SLIRetrievalCompliance,
		SLIEvaluationQuality,
		SLIFalsePositiveRate,
	}
}

// SLIValue is one deterministic indicator computation over a window.
// A zero denominator yields InsufficientData=true and the value must then
// be excluded from burn-rate math, never treated as healthy or failing.
type SLIValue struct {
	SLIID            string            `json:"sli_id"`
	WindowStart      time.Time         `json:"window_start"`
	WindowEnd        time.Time         `json:"window_end"`
	Labels           map[string]string `json:"labels,omitempty"`
	Numerator        float64           `json:"numerator"`
	Denominator      float64           `json:"denominator"`
	Value            float64           `json:"value"`
	InsufficientData bool              `json:"insufficient_data,omitempty"`
}

// Validate enforces indicator value consistency.
func (v SLIValue) Validate() error {
	if strings.TrimSpace(v.SLIID) == "" {
		return fmt.Errorf("sli_id is required")
	}
	if !v.WindowEnd.After(v.WindowStart) {
		return fmt.Errorf("window_end must be after window_start")
	}
	if v.Denominator < 0 || v.Numerator < 0 {
		return fmt.Errorf("numerator and denominator must be >=0")
	}
	if v.Denominator == 0 && !v.InsufficientData {
		return fmt.Errorf("zero denominator requires insufficient_data")
	}
	return nil
}

// RoutingMode selects alert delivery urgency. Ticket is the default;
// paging is strictly opt-in per config.
type RoutingMode string

const (
	RouteTicket RoutingMode = "ticket"
	RoutePage   RoutingMode = "page"
)

// Validate enforces supported routing modes.
func (m RoutingMode) Validate() error {
	switch m {
	case RouteTicket, RoutePage:
		return nil
	default:
		return fmt.Errorf("invalid routing_mode: %q", m)
	}
}

// AlertWindow binds one evaluation window to its burn-rate threshold.
type AlertWindow struct {
	Duration      time.Duration `json:"duration" yaml:"duration"`
	BurnThreshold float64       `json:"burn_threshold" yaml:"burn_threshold"`
}

// Validate enforces window completeness.
func (w AlertWindow) Validate() error {
	if w.Duration <= 0 {
		return fmt.Errorf("window duration must be >0")
	}
	if w.BurnThreshold <= 0 {
		return fmt.Errorf("window burn_threshold must be >0")
	}
	return nil
}

// AlertWindows pairs the fast trigger window with the confirm window.
type AlertWindows struct {
	Fast    AlertWindow `json:"fast" yaml:"fast"`
	Confirm AlertWindow `json:"confirm" yaml:"confirm"`
}

// AlertConfig is the declarative burn-rate alert definition.
type AlertConfig struct {
	AlertID      string       `json:"alert_id" yaml:"alert_id"`
	SLOObjective float64      `json:"slo_objective" yaml:"slo_objective"`
	SLIID        string       `json:"sli_id" yaml:"sli_id"`
	Windows      AlertWindows `json:"windows" yaml:"windows"`
	MinTraffic   float64      `json:"min_traffic" yaml:"min_traffic"`
	RoutingMode  RoutingMode  `json:"routing_mode" yaml:"routing_mode"`
}

// Validate enforces alert config completeness and applies the ticket
// routing default.
func (c *AlertConfig) Validate() error {
	if strings.TrimSpace(c.AlertID) == "" {
		return fmt.Errorf("alert_id is required")
	}
	if c.SLOObjective <= 0 || c.SLOObjective >= 1 {
		return fmt.Errorf("slo_objective must be in (0,1)")
	}
	if strings.TrimSpace(c.SLIID) == "" {
		return fmt.Errorf("sli_id is required")
	}
	if err := c.Windows.Fast.Validate(); err != nil {
		return fmt.Errorf("fast window: %w", err)
	}
	if err := c.Windows.Confirm.Validate(); err != nil {
		return fmt.Errorf("confirm window: %w", err)
	}
	if c.Windows.Confirm.Duration < c.Windows.Fast.Duration {
		return fmt.Errorf("confirm window must not be shorter than fast window")
	}
	if c.MinTraffic < 0 {
		return fmt.Errorf("min_traffic must be >=0")
	}
	if c.RoutingMode == "" {
		c.RoutingMode = RouteTicket
	}
	return c.RoutingMode.Validate()
}

// AlertEvent records one burn-rate state-machine firing.
type AlertEvent struct {
	AlertID          string      `json:"alert_id"`
	Dimension        string      `json:"dimension,omitempty"`
	FiredAt          time.Time   `json:"fired_at"`
	DedupFingerprint string      `json:"dedup_fingerprint"`
	Suppressed       bool        `json:"suppressed"`
	WindowsBreached  []string    `json:"windows_breached"`
	RoutingMode      RoutingMode `json:"routing_mode"`
}

// ForecastSignal is a read-only time-to-breach projection. It never
// triggers actions directly; the prevent-first engine consumes it behind
// its own gates.
type ForecastSignal struct {
	SLOID        string        `json:"slo_id"`
	TimeToBreach time.Duration `json:"time_to_breach"`
	Horizon      time.Duration `json:"horizon"`
	Confidence   float64       `json:"confidence"`
	Units        string        `json:"units"`
	ComputedAt   time.Time     `json:"computed_at"`
}

// ConfidenceGate bounds the forecast confidence an action demands.
type ConfidenceGate struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// ActionPolicy is the declarative prevent-first action definition.
// Enabled defaults to false; there is no implicit default-on path.
type ActionPolicy struct {
	ActionID                    string         `json:"action_id" yaml:"action_id"`
	ActionType                  string         `json:"action_type" yaml:"action_type"`
	Enabled                     bool           `json:"enabled" yaml:"enabled"`
	ConfidenceGate              ConfidenceGate `json:"confidence_gate" yaml:"confidence_gate"`
	PolicyAuthorizationRequired bool           `json:"policy_authorization_required" yaml:"policy_authorization_required"`
}

// Validate enforces action policy completeness.
func (p ActionPolicy) Validate() error {
	if strings.TrimSpace(p.ActionID) == "" {
		return fmt.Errorf("action_id is required")
	}
	if strings.TrimSpace(p.ActionType) == "" {
		return fmt.Errorf("action_type is required")
	}
	if p.ConfidenceGate.MinConfidence < 0 || p.ConfidenceGate.MinConfidence > 1 {
		return fmt.Errorf("confidence_gate.min_confidence must be in [0,1]")
	}
	return nil
}
