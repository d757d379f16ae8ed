package governance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DecisionStatus enumerates governed decision outcomes.
type DecisionStatus string

const (
	StatusExecuted DecisionStatus = "executed"
	StatusBlocked  DecisionStatus = "blocked"
	StatusFailed   DecisionStatus = "failed"
)

// Validate enforces supported decision statuses.
func (s DecisionStatus) Validate() error {
	switch s {
	case StatusExecuted, StatusBlocked, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid decision status: %q", s)
	}
}

// Decision captures the outcome recorded in a receipt.
type Decision struct {
	Status    DecisionStatus `json:"status"`
	Rationale string         `json:"rationale"`
	Badges    []string       `json:"badges,omitempty"`
}

// Receipt is the immutable record of one governed decision. Corrections
// are new receipts, never edits; the ledger is append-only.
type Receipt struct {
	ReceiptID          string         `json:"receipt_id"`
	GateID             string         `json:"gate_id"`
	PolicyVersionIDs   []string       `json:"policy_version_ids"`
	SnapshotHash       string         `json:"snapshot_hash"`
	TimestampUTC       time.Time      `json:"timestamp_utc"`
	TimestampMonotonic int64          `json:"timestamp_monotonic_ms"`
	Inputs             map[string]any `json:"inputs,omitempty"`
	Decision           Decision       `json:"decision"`
	EvidenceHandles    []string       `json:"evidence_handles,omitempty"`
	Actor              string         `json:"actor"`
	Degraded           bool           `json:"degraded"`
	Signature          string         `json:"signature,omitempty"`
}

// Validate enforces receipt completeness before signing or persistence.
func (r Receipt) Validate() error {
	if strings.TrimSpace(r.ReceiptID) == "" {
		return fmt.Errorf("receipt_id is required")
	}
	if strings.TrimSpace(r.GateID) == "" {
		return fmt.Errorf("gate_id is required")
	}
	if r.TimestampUTC.IsZero() {
		return fmt.Errorf("timestamp_utc is required")
	}
	if strings.TrimSpace(r.Actor) == "" {
		return fmt.Errorf("actor is required")
	}
	if err := r.Decision.Status.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Decision.Rationale) == "" {
		return fmt.Errorf("decision.rationale is required")
	}
	return nil
}

// CanonicalBytes returns the sorted-key serialization of all receipt
// fields except the signature. The detached signature is computed over
// exactly these bytes.
func (r Receipt) CanonicalBytes() ([]byte, error) {
	r.Signature = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize receipt: %w", err)
	}
	delete(generic, "signature")
	// encoding/json sorts map keys, which canonicalizes every level once
	// the value is generic maps.
	canon, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal receipt: %w", err)
	}
	return canon, nil
}
