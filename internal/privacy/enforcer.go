package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

// ErrPrivacyViolation signals an event rejected by the active policy.
var ErrPrivacyViolation = errors.New("privacy violation")

// FingerprintPrefix marks values already replaced by a one-way hash.
// Prefixed values are never rescanned, which keeps redaction idempotent.
const FingerprintPrefix = "sha256:"

// ViolationType classifies the enforcement outcome.
type ViolationType string

const (
	ViolationNone          ViolationType = "none"
	ViolationDenyField     ViolationType = "deny_field"
	ViolationRequiredField ViolationType = "required_field_pattern"
	ViolationRedacted      ViolationType = "pattern_redacted"
)

// PatternClass is one named deterministic content class.
type PatternClass struct {
	Name    string
	Pattern *regexp.Regexp
}

// Policy is the active allow/deny redaction policy. Matching is pure
// pattern and allow/deny evaluation so audits replay exactly.
type Policy struct {
	Version string
	// DenyFields rejects the whole event on field-name match, before any
	// pattern scanning.
	DenyFields []string
	// AllowFields are the string fields eligible for in-place redaction.
	AllowFields []string
	// NonRedactable are required fields that must never be fingerprinted;
	// a pattern match there rejects the whole event.
	NonRedactable []string
	Patterns      []PatternClass
	Salt          string
}

// Validate enforces policy completeness.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Version) == "" {
		return fmt.Errorf("policy version is required")
	}
	if len(p.Patterns) == 0 {
		return fmt.Errorf("at least one pattern class is required")
	}
	for _, class := range p.Patterns {
		if strings.TrimSpace(class.Name) == "" || class.Pattern == nil {
			return fmt.Errorf("pattern class requires name and compiled pattern")
		}
	}
	return nil
}

// DefaultPolicy returns the shipped deny/allow policy.
func DefaultPolicy() Policy {
	return Policy{
		Version: "privacy-policy/v1",
		DenyFields: []string{
			"raw_prompt", "raw_output", "prompt", "completion",
			"credentials", "api_key", "password", "secret", "token",
			"authorization",
		},
		AllowFields: []string{
			"message", "details", "summary", "target", "rubric",
		},
		NonRedactable: []string{
			"decision_id", "check_id", "query_id", "eval_id", "run_id",
			"error_kind", "route", "action", "operation", "status",
		},
		Patterns: []PatternClass{
			{Name: "secret", Pattern: regexp.MustCompile(`(?i)(AKIA[0-9A-Z]{16}|-----BEGIN [A-Z ]*PRIVATE KEY-----|bearer\s+[A-Za-z0-9._\-]{16,}|gh[pousr]_[A-Za-z0-9]{20,})`)},
			{Name: "pii", Pattern: regexp.MustCompile(`(\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{2,4}\b|\b\d{3}-\d{2}-\d{4}\b|[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)},
			{Name: "source_content", Pattern: regexp.MustCompile("(?s)```.+```")},
		},
		Salt: "aslo/v1",
	}
}

// Decision is the reproducible record of one enforcement pass. Blocked
// field names are recorded, never values.
type Decision struct {
	PolicyVersion    string        `json:"policy_version"`
	ViolationType    ViolationType `json:"violation_type"`
	BlockedFields    []string      `json:"blocked_fields,omitempty"`
	Fingerprint      string        `json:"fingerprint,omitempty"`
	RedactionApplied bool          `json:"redaction_applied"`
}

// Enforcer evaluates events against one policy version.
type Enforcer struct {
	policy        Policy
	denySet       map[string]struct{}
	allowSet      map[string]struct{}
	nonRedactable map[string]struct{}
}

// NewEnforcer validates the policy and prepares field lookups.
func NewEnforcer(policy Policy) (*Enforcer, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid privacy policy: %w", err)
	}
	return &Enforcer{
		policy:        policy,
		denySet:       lowerSet(policy.DenyFields),
		allowSet:      lowerSet(policy.AllowFields),
		nonRedactable: lowerSet(policy.NonRedactable),
	}, nil
}

// PolicyVersion returns the active policy version.
func (e *Enforcer) PolicyVersion() string { return e.policy.Version }

// Apply evaluates one event. The returned event has redactions applied on
// an independent payload copy. On rejection the error wraps
// ErrPrivacyViolation and the event must not be forwarded. The decision is
// always populated.
func (e *Enforcer) Apply(event telemetry.Event) (telemetry.Event, Decision, error) {
	decision := Decision{
		PolicyVersion: e.policy.Version,
		ViolationType: ViolationNone,
	}

	// Deny-listed field names reject before any pattern scanning.
	if blocked := e.denyMatches(event.Payload, ""); len(blocked) > 0 {
		decision.ViolationType = ViolationDenyField
		decision.BlockedFields = blocked
		return event, decision, fmt.Errorf("%w: deny-listed fields %v", ErrPrivacyViolation, blocked)
	}

	// Non-redactable required fields matching a deny pattern reject the
	// whole event rather than partially redacting it.
	if blocked := e.requiredMatches(event.Payload, ""); len(blocked) > 0 {
		decision.ViolationType = ViolationRequiredField
		decision.BlockedFields = blocked
		return event, decision, fmt.Errorf("%w: sensitive content in non-redactable fields %v", ErrPrivacyViolation, blocked)
	}

	out := event.Clone()
	redacted := e.redactAllowed(out.Payload, "", &decision)
	if len(redacted) > 0 {
		decision.ViolationType = ViolationRedacted
		decision.BlockedFields = redacted
		decision.RedactionApplied = true
	}
	return out, decision, nil
}

// AuditEvent builds the privacy.audit.v1 event for one decision,
// correlated to the source event's trace.
func (e *Enforcer) AuditEvent(source telemetry.Event, decision Decision) telemetry.Event {
	blocked := decision.BlockedFields
	if blocked == nil {
		blocked = []string{}
	}
	audit := telemetry.Event{
		EventID:     uuid.NewString(),
		EventTime:   source.EventTime,
		EventType:   telemetry.EventPrivacyAudit,
		Severity:    telemetry.SeverityInfo,
		Source:      telemetry.Source{Component: "collector", Channel: "privacy", Version: e.policy.Version},
		Correlation: source.Correlation,
		Payload: map[string]any{
			"policy_version":    decision.PolicyVersion,
			"violation_type":    string(decision.ViolationType),
			"blocked_fields":    blocked,
			"redaction_applied": decision.RedactionApplied,
		},
	}
	if decision.Fingerprint != "" {
		audit.Payload["fingerprint"] = decision.Fingerprint
	}
	return audit
}

// Fingerprint returns the one-way hash substituted for sensitive content.
func (e *Enforcer) Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(e.policy.Salt + "\x00" + value))
	return FingerprintPrefix + hex.EncodeToString(sum[:])
}

func (e *Enforcer) denyMatches(payload map[string]any, prefix string) []string {
	var blocked []string
	for _, name := range sortedKeys(payload) {
		path := joinPath(prefix, name)
		if _, deny := e.denySet[strings.ToLower(name)]; deny {
			blocked = append(blocked, path)
			continue
		}
		if nested, ok := payload[name].(map[string]any); ok {
			blocked = append(blocked, e.denyMatches(nested, path)...)
		}
	}
	return blocked
}

func (e *Enforcer) requiredMatches(payload map[string]any, prefix string) []string {
	var blocked []string
	for _, name := range sortedKeys(payload) {
		path := joinPath(prefix, name)
		switch value := payload[name].(type) {
		case string:
			if _, required := e.nonRedactable[strings.ToLower(name)]; !required {
				continue
			}
			if e.matchesAnyPattern(value) {
				blocked = append(blocked, path)
			}
		case map[string]any:
			blocked = append(blocked, e.requiredMatches(value, path)...)
		}
	}
	return blocked
}

func (e *Enforcer) redactAllowed(payload map[string]any, prefix string, decision *Decision) []string {
	var redacted []string
	for _, name := range sortedKeys(payload) {
		path := joinPath(prefix, name)
		switch value := payload[name].(type) {
		case string:
			if _, allowed := e.allowSet[strings.ToLower(name)]; !allowed {
				continue
			}
			if strings.HasPrefix(value, FingerprintPrefix) {
				continue
			}
			if !e.matchesAnyPattern(value) {
				continue
			}
			fingerprint := e.Fingerprint(value)
			payload[name] = fingerprint
			if decision.Fingerprint == "" {
				decision.Fingerprint = fingerprint
			}
			redacted = append(redacted, path)
		case map[string]any:
			redacted = append(redacted, e.redactAllowed(value, path, decision)...)
		}
	}
	return redacted
}

func (e *Enforcer) matchesAnyPattern(value string) bool {
	for _, class := range e.policy.Patterns {
		if class.Pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func lowerSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		out[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return out
}

func sortedKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
