package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

var (
	// ErrSchemaNotFound signals an unknown event type or version lookup.
	// The requesting stage rejects the event instead of crashing.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrIncompatibleSchema signals a registration that narrows or removes
	// a previously required field without a major-version bump.
	ErrIncompatibleSchema = errors.New("incompatible schema change requires a new major version")
)

// Schema is one compiled, registered payload contract.
type Schema struct {
	EventType string
	Family    string
	Version   int
	Raw       []byte

	compiled *jsonschema.Schema
	required map[string][]string // required field name -> declared type set
}

// ValidatePayload checks a payload document against the compiled schema.
func (s *Schema) ValidatePayload(payload map[string]any) error {
	// Round-trip so nested values are the generic shapes the validator
	// expects regardless of how the payload map was built.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("payload does not match %s: %w", s.EventType, err)
	}
	return nil
}

// Registry holds the canonical envelope + per-type payload contracts with
// versioning rules. Producers may keep emitting an older major version
// while a newer one coexists.
type Registry struct {
	mu       sync.RWMutex
	families map[string]map[int]*Schema
}

// NewRegistry returns an empty contract registry.
func NewRegistry() *Registry {
	return &Registry{families: map[string]map[int]*Schema{}}
}

// Register compiles and stores a payload schema for the given
// `{category}.{subcategory}.v{n}` event type. Adding optional fields to an
// existing version is compatible; removing or narrowing a previously
// required field at the same major version is rejected.
func (r *Registry) Register(eventType string, schemaJSON []byte) error {
	family, version, err := telemetry.ParseEventType(eventType)
	if err != nil {
		return err
	}

	compiled, err := jsonschema.CompileString(eventType+".json", string(schemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", eventType, err)
	}
	required, err := requiredFieldTypes(schemaJSON)
	if err != nil {
		return fmt.Errorf("inspect schema for %s: %w", eventType, err)
	}

	next := &Schema{
		EventType: eventType,
		Family:    family,
		Version:   version,
		Raw:       append([]byte(nil), schemaJSON...),
		compiled:  compiled,
		required:  required,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.families[family][version]; ok {
		if err := checkCompatible(prev.required, next.required); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
	}
	if r.families[family] == nil {
		r.families[family] = map[int]*Schema{}
	}
	r.families[family][version] = next
	return nil
}

// Get resolves one family+version contract.
func (r *Registry) Get(family string, version int) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.families[family][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrSchemaNotFound, family, version)
	}
	return schema, nil
}

// GetByType resolves the contract for a full event type string.
func (r *Registry) GetByType(eventType string) (*Schema, error) {
	family, version, err := telemetry.ParseEventType(eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaNotFound, err)
	}
	return r.Get(family, version)
}

// ListEventTypes returns all registered event types sorted.
func (r *Registry) ListEventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.families))
	for _, versions := range r.families {
		for _, schema := range versions {
			out = append(out, schema.EventType)
		}
	}
	sort.Strings(out)
	return out
}

// checkCompatible enforces the same-major-version evolution rule: every
// previously required field must stay required with a type set at least as
// wide as before.
func checkCompatible(prev, next map[string][]string) error {
	for field, prevTypes := range prev {
		nextTypes, ok := next[field]
		if !ok {
			return fmt.Errorf("%w (required field %q removed)", ErrIncompatibleSchema, field)
		}
		for _, t := range prevTypes {
			if !containsType(nextTypes, t) {
				return fmt.Errorf("%w (required field %q narrowed from %v to %v)",
					ErrIncompatibleSchema, field, prevTypes, nextTypes)
			}
		}
	}
	return nil
}

func containsType(set []string, t string) bool {
	for _, candidate := range set {
		if candidate == t || candidate == "any" {
			return true
		}
	}
	return false
}

// requiredFieldTypes extracts top-level required fields and their declared
// type sets from a raw schema document.
func requiredFieldTypes(schemaJSON []byte) (map[string][]string, error) {
	var doc struct {
		Required   []string `json:"required"`
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(doc.Required))
	for _, field := range doc.Required {
		prop, ok := doc.Properties[field]
		if !ok {
			// Required but unconstrained; treat as any type.
			out[field] = []string{"any"}
			continue
		}
		switch typed := prop.Type.(type) {
		case string:
			out[field] = []string{typed}
		case []any:
			types := make([]string, 0, len(typed))
			for _, entry := range typed {
				s, ok := entry.(string)
				if !ok {
					return nil, fmt.Errorf("invalid type entry for required field %q", field)
				}
				types = append(types, s)
			}
			sort.Strings(types)
			out[field] = types
		case nil:
			out[field] = []string{"any"}
		default:
			return nil, fmt.Errorf("invalid type declaration for required field %q", field)
		}
	}
	return out, nil
}
