package integration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/agent-slo-pipeline/api/governance"
	"github.com/tiger/agent-slo-pipeline/api/slo"
	"github.com/tiger/agent-slo-pipeline/api/telemetry"
	"github.com/tiger/agent-slo-pipeline/internal/burnrate"
	"github.com/tiger/agent-slo-pipeline/internal/collector"
	"github.com/tiger/agent-slo-pipeline/internal/contract"
	"github.com/tiger/agent-slo-pipeline/internal/emitter"
	"github.com/tiger/agent-slo-pipeline/internal/export"
	"github.com/tiger/agent-slo-pipeline/internal/forecast"
	"github.com/tiger/agent-slo-pipeline/internal/prevent"
	"github.com/tiger/agent-slo-pipeline/internal/privacy"
	"github.com/tiger/agent-slo-pipeline/internal/receipt"
	"github.com/tiger/agent-slo-pipeline/internal/sli"
	"github.com/tiger/agent-slo-pipeline/internal/tracecontext"
)

// pipelineTransport bridges the producer-side emitter straight into the
// collector, standing in for the HTTP intake hop.
type pipelineTransport struct {
	pipeline *collector.Pipeline
}

func (t pipelineTransport) Deliver(_ context.Context, event telemetry.Event) error {
	t.pipeline.Submit(event)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func waitForForwarded(t *testing.T, pipeline *collector.Pipeline, want uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats := pipeline.Stats()
		if stats.Forwarded >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline never forwarded %d events: %+v", want, pipeline.Stats())
}

func TestEmitterToCollectorToAlertChain(t *testing.T) {
	t.Parallel()

	registry, err := contract.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	enforcer, err := privacy.NewEnforcer(privacy.DefaultPolicy())
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}

	sink := export.NewMemorySink()
	var forwarded []telemetry.Event
	pipeline, err := collector.New(collector.Config{
		Registry:   registry,
		Enforcer:   enforcer,
		ExportSink: sink,
		SLIFeed:    func(event telemetry.Event) { forwarded = append(forwarded, event) },
		Workers:    1,
		Now:        fixedNow,
	})
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	defer pipeline.Close()

	propagator := tracecontext.NewPropagator()
	emit, err := emitter.New(emitter.Config{
		Transport:  pipelineTransport{pipeline: pipeline},
		Enforcer:   enforcer,
		Propagator: propagator,
		Source:     telemetry.Source{Component: "agent", Channel: "local", Version: "1.0.0"},
		Enabled:    true,
		Now:        fixedNow,
	})
	if err != nil {
		t.Fatalf("emitter: %v", err)
	}

	// One decision per minute over the last hour; four out of five fail.
	evalEnd := fixedNow()
	root := propagator.Mint()
	for i := 0; i < 60; i++ {
		status := "fail"
		if i%5 == 0 {
			status = "pass"
		}
		emit.Emit(telemetry.EventAgentDecision, map[string]any{
			"decision_id": fmt.Sprintf("d-%d", i),
			"status":      status,
		}, telemetry.SeverityInfo, &root)
	}
	if err := emit.Close(); err != nil {
		t.Fatalf("close emitter: %v", err)
	}
	waitForForwarded(t, pipeline, 60)
	if err := pipeline.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	// Emit stamps event_time at submission, so spread the copies across
	// the window the way a live hour would look.
	for i := range forwarded {
		forwarded[i].EventTime = evalEnd.Add(-time.Duration(i)*time.Minute - 30*time.Second)
	}

	calculator := sli.NewCalculator(sli.DefaultConfig())
	alertCfg := slo.AlertConfig{
		AlertID:      "alert-decision-success",
		SLOObjective: 0.99,
		SLIID:        slo.SLIDecisionSuccess,
		Windows: slo.AlertWindows{
			Fast:    slo.AlertWindow{Duration: 5 * time.Minute, BurnThreshold: 14.4},
			Confirm: slo.AlertWindow{Duration: time.Hour, BurnThreshold: 6},
		},
		MinTraffic: 3,
	}

	fast, err := calculator.Compute(alertCfg.SLIID, forwarded, sli.Window{Start: evalEnd.Add(-5 * time.Minute), End: evalEnd})
	if err != nil {
		t.Fatalf("fast SLI: %v", err)
	}
	confirm, err := calculator.Compute(alertCfg.SLIID, forwarded, sli.Window{Start: evalEnd.Add(-time.Hour), End: evalEnd})
	if err != nil {
		t.Fatalf("confirm SLI: %v", err)
	}

	engine := burnrate.NewEngine(burnrate.Config{Now: fixedNow})
	alert, err := engine.Evaluate(context.Background(), alertCfg, "tier=agent", fast, confirm)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if alert == nil || alert.Suppressed {
		t.Fatalf("sustained failure did not fire: %+v", alert)
	}
	if alert.RoutingMode != slo.RouteTicket {
		t.Fatalf("routing = %q, want ticket default", alert.RoutingMode)
	}
}

func TestForecastSignalDrivesGatedActionWithReceipt(t *testing.T) {
	t.Parallel()

	forecaster := forecast.NewEngine(forecast.Config{
		Horizon: 12 * time.Hour,
		Now:     fixedNow,
	})

	// A steadily degrading success rate approaching the 99% objective.
	start := fixedNow().Add(-time.Hour)
	var samples []forecast.Sample
	for i := 0; i < 6; i++ {
		samples = append(samples, forecast.Sample{
			At:    start.Add(time.Duration(i) * 10 * time.Minute),
			Value: 0.999 - 0.001*float64(i),
		})
	}
	signal, err := forecaster.Forecast("slo-decision-success", 0.99, samples)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if signal == nil {
		t.Fatalf("degrading trend produced no signal")
	}

	signer, err := receipt.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	ledger, err := receipt.NewLedger(t.TempDir(), signer.PublicKey())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	executed := 0
	actions, err := prevent.NewEngine(prevent.Config{
		Signer: signer,
		Ledger: ledger,
		Actor:  "svc-evaluator-" + uuid.NewString(),
		Authorizer: prevent.AuthorizerFunc(func(context.Context, map[string]any) (bool, error) {
			return true, nil
		}),
		Execute: func(context.Context, slo.ActionPolicy, slo.ForecastSignal) error {
			executed++
			return nil
		},
		Now: fixedNow,
	})
	if err != nil {
		t.Fatalf("prevent.NewEngine: %v", err)
	}

	disabled := slo.ActionPolicy{
		ActionID:       "act-throttle-background",
		ActionType:     "throttle",
		ConfidenceGate: slo.ConfidenceGate{MinConfidence: 0.8},
	}
	rec, err := actions.Invoke(context.Background(), disabled, *signal)
	if err != nil {
		t.Fatalf("Invoke disabled: %v", err)
	}
	if rec.Decision.Status != governance.StatusBlocked || executed != 0 {
		t.Fatalf("disabled action: status=%q executed=%d", rec.Decision.Status, executed)
	}

	enabled := disabled
	enabled.Enabled = true
	enabled.PolicyAuthorizationRequired = true
	rec, err = actions.Invoke(context.Background(), enabled, *signal)
	if err != nil {
		t.Fatalf("Invoke enabled: %v", err)
	}
	if rec.Decision.Status != governance.StatusExecuted || executed != 1 {
		t.Fatalf("enabled action: status=%q executed=%d", rec.Decision.Status, executed)
	}

	verified, err := ledger.VerifyLedger(rec.Actor)
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if verified != 2 {
		t.Fatalf("verified %d receipts, want 2", verified)
	}
}
