package contract

import (
	"fmt"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

// builtinSchemas holds the shipped payload contracts, one per registered
// event type.
var builtinSchemas = map[string]string{
	telemetry.EventEditorAction: `{
		"type": "object",
		"required": ["action"],
		"properties": {
			"action": {"type": "string"},
			"target": {"type": "string"},
			"duration_ms": {"type": "number"}
		}
	}`,
	telemetry.EventEditorError: `{
		"type": "object",
		"required": ["error_kind", "message"],
		"properties": {
			"error_kind": {"type": "string"},
			"message": {"type": "string"},
			"stack_hash": {"type": "string"},
			"context": {"type": "object"}
		}
	}`,
	telemetry.EventEditorPerf: `{
		"type": "object",
		"required": ["operation", "duration_ms"],
		"properties": {
			"operation": {"type": "string"},
			"duration_ms": {"type": "number", "minimum": 0}
		}
	}`,
	telemetry.EventAgentDecision: `{
		"type": "object",
		"required": ["decision_id", "status"],
		"properties": {
			"decision_id": {"type": "string"},
			"status": {"type": "string", "enum": ["pass", "warn", "fail"]},
			"rule_id": {"type": "string"},
			"summary": {"type": "string"}
		}
	}`,
	telemetry.EventAgentValidation: `{
		"type": "object",
		"required": ["check_id", "pass"],
		"properties": {
			"check_id": {"type": "string"},
			"pass": {"type": "boolean"},
			"details": {"type": "string"}
		}
	}`,
	telemetry.EventAgentRetrieval: `{
		"type": "object",
		"required": ["query_id", "relevance", "age_ms"],
		"properties": {
			"query_id": {"type": "string"},
			"relevance": {"type": "number", "minimum": 0, "maximum": 1},
			"age_ms": {"type": "number", "minimum": 0}
		}
	}`,
	telemetry.EventAgentEvaluation: `{
		"type": "object",
		"required": ["eval_id", "score"],
		"properties": {
			"eval_id": {"type": "string"},
			"score": {"type": "number", "minimum": 0, "maximum": 1},
			"rubric": {"type": "string"}
		}
	}`,
	telemetry.EventAgentError: `{
		"type": "object",
		"required": ["error_kind", "message"],
		"properties": {
			"error_kind": {"type": "string"},
			"message": {"type": "string"},
			"stack_hash": {"type": "string"},
			"context": {"type": "object"}
		}
	}`,
	telemetry.EventBackendRequest: `{
		"type": "object",
		"required": ["route", "status_code", "duration_ms"],
		"properties": {
			"route": {"type": "string"},
			"status_code": {"type": "integer"},
			"duration_ms": {"type": "number", "minimum": 0}
		}
	}`,
	telemetry.EventBackendError: `{
		"type": "object",
		"required": ["error_kind", "message"],
		"properties": {
			"error_kind": {"type": "string"},
			"message": {"type": "string"},
			"stack_hash": {"type": "string"},
			"context": {"type": "object"}
		}
	}`,
	telemetry.EventCIRun: `{
		"type": "object",
		"required": ["run_id", "outcome"],
		"properties": {
			"run_id": {"type": "string"},
			"outcome": {"type": "string", "enum": ["success", "failure", "cancelled"]},
			"duration_ms": {"type": "number", "minimum": 0}
		}
	}`,
	telemetry.EventPrivacyAudit: `{
		"type": "object",
		"required": ["policy_version", "violation_type", "blocked_fields", "redaction_applied"],
		"properties": {
			"policy_version": {"type": "string"},
			"violation_type": {"type": "string"},
			"blocked_fields": {"type": "array", "items": {"type": "string"}},
			"fingerprint": {"type": "string"},
			"redaction_applied": {"type": "boolean"}
		}
	}`,
	telemetry.EventAlertFeedback: `{
		"type": "object",
		"required": ["alert_id", "flagged"],
		"properties": {
			"alert_id": {"type": "string"},
			"flagged": {"type": "boolean"},
			"false_positive": {"type": "boolean"}
		}
	}`,
}

// NewDefaultRegistry returns a registry preloaded with every shipped
// event-type contract.
func NewDefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	for _, eventType := range telemetry.EventTypes() {
		schema, ok := builtinSchemas[eventType]
		if !ok {
			return nil, fmt.Errorf("missing builtin schema for %s", eventType)
		}
		if err := registry.Register(eventType, []byte(schema)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
