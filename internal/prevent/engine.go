package prevent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/agent-slo-pipeline/api/governance"
	"github.com/tiger/agent-slo-pipeline/api/slo"
	"github.com/tiger/agent-slo-pipeline/internal/receipt"
)

// Executor performs the mitigating action once every gate has passed.
type Executor func(ctx context.Context, policy slo.ActionPolicy, signal slo.ForecastSignal) error

// Config wires the prevent-first action engine.
type Config struct {
	Signer *receipt.Signer
	Ledger *receipt.Ledger
	// Authorizer backs the policy_authorization_required gate. Leaving it
	// nil while a policy demands authorization blocks that action.
	Authorizer           Authorizer
	AuthorizationTimeout time.Duration
	Execute              Executor

	// Actor names this engine instance in receipts.
	Actor            string
	GateID           string
	PolicyVersionIDs []string
	SnapshotHash     string

	Now       func() time.Time
	Monotonic func() int64
}

func (c Config) withDefaults() Config {
	if c.AuthorizationTimeout <= 0 {
		c.AuthorizationTimeout = 2 * time.Second
	}
	if c.Execute == nil {
		c.Execute = func(context.Context, slo.ActionPolicy, slo.ForecastSignal) error { return nil }
	}
	if c.Actor == "" {
		c.Actor = "aslo-evaluator"
	}
	if c.GateID == "" {
		c.GateID = "gate-prevent-first"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Monotonic == nil {
		start := time.Now()
		c.Monotonic = func() int64 { return time.Since(start).Milliseconds() }
	}
	return c
}

// Engine runs forecast-driven actions behind the mandatory gate chain.
// Gates evaluate in a fixed order: enabled, then confidence, then policy
// authorization. A gate that fails blocks the action; blocked is a
// receipted outcome, not an error. The only errors Invoke returns are
// signing and ledger failures, because an action without a durable
// receipt must not stand.
type Engine struct {
	cfg Config
}

// NewEngine validates wiring and constructs the engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("prevent: signer is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("prevent: ledger is required")
	}
	return &Engine{cfg: cfg.withDefaults()}, nil
}

// Invoke evaluates every gate for one (policy, signal) pair, executes
// the action when all gates pass, and records a signed receipt for the
// outcome either way.
func (e *Engine) Invoke(ctx context.Context, policy slo.ActionPolicy, signal slo.ForecastSignal) (governance.Receipt, error) {
	if err := policy.Validate(); err != nil {
		return e.record(policy, signal, governance.Decision{
			Status:    governance.StatusBlocked,
			Rationale: fmt.Sprintf("invalid action policy: %v", err),
		}, false)
	}

	if !policy.Enabled {
		return e.record(policy, signal, governance.Decision{
			Status:    governance.StatusBlocked,
			Rationale: "action not enabled",
		}, false)
	}

	if signal.Confidence < policy.ConfidenceGate.MinConfidence {
		return e.record(policy, signal, governance.Decision{
			Status: governance.StatusBlocked,
			Rationale: fmt.Sprintf("forecast confidence %.3f below gate %.3f",
				signal.Confidence, policy.ConfidenceGate.MinConfidence),
		}, false)
	}

	if policy.PolicyAuthorizationRequired {
		decision, degraded, ok := e.authorize(ctx, policy, signal)
		if !ok {
			return e.record(policy, signal, decision, degraded)
		}
	}

	if err := e.cfg.Execute(ctx, policy, signal); err != nil {
		return e.record(policy, signal, governance.Decision{
			Status:    governance.StatusFailed,
			Rationale: fmt.Sprintf("action execution failed: %v", err),
		}, false)
	}

	return e.record(policy, signal, governance.Decision{
		Status:    governance.StatusExecuted,
		Rationale: "all gates passed",
		Badges:    []string{"enabled", "confidence", "authorized"},
	}, false)
}

// authorize runs the policy check under its own deadline. Timeouts and
// evaluation errors fail closed.
func (e *Engine) authorize(ctx context.Context, policy slo.ActionPolicy, signal slo.ForecastSignal) (governance.Decision, bool, bool) {
	if e.cfg.Authorizer == nil {
		return governance.Decision{
			Status:    governance.StatusBlocked,
			Rationale: "policy authorization required but no authorizer configured",
		}, true, false
	}

	authCtx, cancel := context.WithTimeout(ctx, e.cfg.AuthorizationTimeout)
	defer cancel()

	allowed, err := e.cfg.Authorizer.Authorize(authCtx, map[string]any{
		"action_id":         policy.ActionID,
		"action_type":       policy.ActionType,
		"slo_id":            signal.SLOID,
		"time_to_breach_ms": signal.TimeToBreach.Milliseconds(),
		"confidence":        signal.Confidence,
		"forecast_computed": signal.ComputedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return governance.Decision{
			Status:    governance.StatusBlocked,
			Rationale: fmt.Sprintf("policy authorization failed closed: %v", err),
		}, true, false
	}
	if !allowed {
		return governance.Decision{
			Status:    governance.StatusBlocked,
			Rationale: "policy denied action",
		}, false, false
	}
	return governance.Decision{}, false, true
}

func (e *Engine) record(policy slo.ActionPolicy, signal slo.ForecastSignal, decision governance.Decision, degraded bool) (governance.Receipt, error) {
	r := governance.Receipt{
		ReceiptID:          uuid.NewString(),
		GateID:             e.cfg.GateID,
		PolicyVersionIDs:   e.cfg.PolicyVersionIDs,
		SnapshotHash:       e.cfg.SnapshotHash,
		TimestampUTC:       e.cfg.Now().UTC(),
		TimestampMonotonic: e.cfg.Monotonic(),
		Inputs: map[string]any{
			"action_id":         policy.ActionID,
			"action_type":       policy.ActionType,
			"slo_id":            signal.SLOID,
			"time_to_breach_ms": signal.TimeToBreach.Milliseconds(),
			"confidence":        signal.Confidence,
			"min_confidence":    policy.ConfidenceGate.MinConfidence,
		},
		Decision: decision,
		Actor:    e.cfg.Actor,
		Degraded: degraded,
	}

	signed, err := e.cfg.Signer.Sign(r)
	if err != nil {
		return governance.Receipt{}, fmt.Errorf("prevent: sign receipt: %w", err)
	}
	if err := e.cfg.Ledger.Append(signed); err != nil {
		return governance.Receipt{}, fmt.Errorf("prevent: persist receipt: %w", err)
	}
	return signed, nil
}
