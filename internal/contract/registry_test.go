package contract

import (
	"errors"
	"testing"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

func TestDefaultRegistryRegistersAllEventTypes(t *testing.T) {
	t.Parallel()

	registry, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	types := registry.ListEventTypes()
	if len(types) != len(telemetry.EventTypes()) {
		t.Fatalf("expected %d registered event types, got %d", len(telemetry.EventTypes()), len(types))
	}
	for _, eventType := range telemetry.EventTypes() {
		if _, err := registry.GetByType(eventType); err != nil {
			t.Fatalf("expected schema for %s: %v", eventType, err)
		}
	}
}

func TestValidatePayloadAcceptsValidDecision(t *testing.T) {
	t.Parallel()

	registry, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	schema, err := registry.GetByType(telemetry.EventAgentDecision)
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	if err := schema.ValidatePayload(map[string]any{
		"decision_id": "d-1",
		"status":      "pass",
	}); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}
}

func TestValidatePayloadRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	registry, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	schema, err := registry.GetByType(telemetry.EventAgentDecision)
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	if err := schema.ValidatePayload(map[string]any{"decision_id": "d-1"}); err == nil {
		t.Fatalf("expected rejection for missing required field")
	}
}

func TestUnknownTypeReturnsSchemaNotFound(t *testing.T) {
	t.Parallel()

	registry, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	if _, err := registry.GetByType("agent.unknown.v1"); !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound, got %v", err)
	}
	if _, err := registry.Get("agent.decision", 7); !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound for unknown version, got %v", err)
	}
}

func TestRegisterRejectsNarrowedRequiredFieldAtSameVersion(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	wide := `{
		"type": "object",
		"required": ["value"],
		"properties": {"value": {"type": ["string", "number"]}}
	}`
	narrow := `{
		"type": "object",
		"required": ["value"],
		"properties": {"value": {"type": "string"}}
	}`
	if err := registry.Register("ci.metric.v1", []byte(wide)); err != nil {
		t.Fatalf("register wide schema: %v", err)
	}
	if err := registry.Register("ci.metric.v1", []byte(narrow)); !errors.Is(err, ErrIncompatibleSchema) {
		t.Fatalf("expected ErrIncompatibleSchema, got %v", err)
	}
	// The same narrowing at a new major version coexists with v1.
	if err := registry.Register("ci.metric.v2", []byte(narrow)); err != nil {
		t.Fatalf("register narrowed schema at v2: %v", err)
	}
	if _, err := registry.Get("ci.metric", 1); err != nil {
		t.Fatalf("v1 must keep coexisting: %v", err)
	}
}

func TestRegisterRejectsRemovedRequiredField(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	before := `{
		"type": "object",
		"required": ["a", "b"],
		"properties": {"a": {"type": "string"}, "b": {"type": "string"}}
	}`
	after := `{
		"type": "object",
		"required": ["a"],
		"properties": {"a": {"type": "string"}}
	}`
	if err := registry.Register("ci.metric.v1", []byte(before)); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	if err := registry.Register("ci.metric.v1", []byte(after)); !errors.Is(err, ErrIncompatibleSchema) {
		t.Fatalf("expected ErrIncompatibleSchema, got %v", err)
	}
}

func TestRegisterAllowsAddingOptionalField(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	before := `{
		"type": "object",
		"required": ["a"],
		"properties": {"a": {"type": "string"}}
	}`
	after := `{
		"type": "object",
		"required": ["a"],
		"properties": {"a": {"type": "string"}, "extra": {"type": "number"}}
	}`
	if err := registry.Register("ci.metric.v1", []byte(before)); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	if err := registry.Register("ci.metric.v1", []byte(after)); err != nil {
		t.Fatalf("adding an optional field must be compatible: %v", err)
	}
}
