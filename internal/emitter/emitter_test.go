package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
	"github.com/tiger/agent-slo-pipeline/internal/privacy"
	"github.com/tiger/agent-slo-pipeline/internal/tracecontext"
)

type memoryTransport struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *memoryTransport) Deliver(_ context.Context, event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryTransport) Events() []telemetry.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]telemetry.Event, len(m.events))
	copy(out, m.events)
	return out
}

type failingTransport struct{}

func (failingTransport) Deliver(context.Context, telemetry.Event) error {
	return errors.New("endpoint unreachable")
}

func newTestEmitter(t *testing.T, transport Transport, enabled bool) *Emitter {
	t.Helper()
	enforcer, err := privacy.NewEnforcer(privacy.DefaultPolicy())
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	e, err := New(Config{
		Transport:  transport,
		Enforcer:   enforcer,
		Propagator: tracecontext.NewPropagator(),
		Source:     telemetry.Source{Component: "editor", Channel: "ui", Version: "1.0.0"},
		Enabled:    enabled,
	})
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEmitDeliversRedactedEnvelope(t *testing.T) {
	t.Parallel()

	transport := &memoryTransport{}
	e := newTestEmitter(t, transport, true)

	tc := e.Emit(telemetry.EventEditorAction, map[string]any{"action": "save"}, telemetry.SeverityInfo, nil)
	if !tc.Valid() {
		t.Fatalf("expected a minted trace context")
	}
	_ = e.Close()

	events := transport.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(events))
	}
	event := events[0]
	if event.EventType != telemetry.EventEditorAction {
		t.Fatalf("unexpected event type %q", event.EventType)
	}
	if event.Correlation.TraceID != tc.TraceID.String() {
		t.Fatalf("delivered correlation must match returned context")
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("delivered envelope must validate: %v", err)
	}
}

func TestEmitIsNoOpWhenDisabled(t *testing.T) {
	t.Parallel()

	transport := &memoryTransport{}
	e := newTestEmitter(t, transport, false)

	for i := 0; i < 100; i++ {
		e.Emit(telemetry.EventEditorAction, map[string]any{"action": "save"}, telemetry.SeverityInfo, nil)
	}
	_ = e.Close()

	if got := len(transport.Events()); got != 0 {
		t.Fatalf("disabled emitter delivered %d events", got)
	}
	if stats := e.Stats(); stats.Enqueued != 0 {
		t.Fatalf("disabled emitter enqueued events: %+v", stats)
	}
}

func TestEmitDerivesChildSpanFromParent(t *testing.T) {
	t.Parallel()

	transport := &memoryTransport{}
	e := newTestEmitter(t, transport, true)

	parent := tracecontext.NewPropagator().Mint()
	child := e.Emit(telemetry.EventEditorAction, map[string]any{"action": "open"}, telemetry.SeverityInfo, &parent)
	if child.TraceID != parent.TraceID {
		t.Fatalf("emit must keep the parent trace_id")
	}
	if child.SpanID == parent.SpanID {
		t.Fatalf("emit must issue a fresh span_id per hop")
	}
}

func TestEmitSwallowsTransportFailures(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, failingTransport{}, true)
	e.Emit(telemetry.EventEditorAction, map[string]any{"action": "save"}, telemetry.SeverityInfo, nil)
	_ = e.Close()

	stats := e.Stats()
	if stats.DeliveryFailures != 1 {
		t.Fatalf("expected 1 counted delivery failure, got %+v", stats)
	}
	if stats.Delivered != 0 {
		t.Fatalf("expected no delivered events, got %+v", stats)
	}
}

func TestEmitDropsRejectedEventButAuditsIt(t *testing.T) {
	t.Parallel()

	transport := &memoryTransport{}
	e := newTestEmitter(t, transport, true)

	e.Emit(telemetry.EventAgentError, map[string]any{
		"error_kind": "auth",
		"message":    "login failed",
		"api_key":    "value",
	}, telemetry.SeverityError, nil)
	_ = e.Close()

	events := transport.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the audit event, got %d events", len(events))
	}
	if events[0].EventType != telemetry.EventPrivacyAudit {
		t.Fatalf("expected privacy audit, got %q", events[0].EventType)
	}
	if stats := e.Stats(); stats.Rejected != 1 {
		t.Fatalf("expected 1 rejected event, got %+v", stats)
	}
}

func TestEmitIsNonBlockingWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	enforcer, err := privacy.NewEnforcer(privacy.DefaultPolicy())
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	block := make(chan struct{})
	e, err := New(Config{
		Transport:      blockedTransport{block: block},
		Enforcer:       enforcer,
		Propagator:     tracecontext.NewPropagator(),
		Source:         telemetry.Source{Component: "editor", Channel: "ui", Version: "1.0.0"},
		QueueCapacity:  1,
		DeliverTimeout: 5 * time.Millisecond,
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	defer func() {
		close(block)
		_ = e.Close()
	}()

	start := time.Now()
	for i := 0; i < 500; i++ {
		e.Emit(telemetry.EventEditorAction, map[string]any{"action": "save"}, telemetry.SeverityInfo, nil)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("expected non-blocking emit under pressure, took %s", elapsed)
	}
	if stats := e.Stats(); stats.Dropped == 0 {
		t.Fatalf("expected dropped events under queue pressure, got %+v", stats)
	}
}

type blockedTransport struct {
	block <-chan struct{}
}

func (t blockedTransport) Deliver(ctx context.Context, _ telemetry.Event) error {
	select {
	case <-t.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
