package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
	"github.com/tiger/agent-slo-pipeline/internal/privacy"
	"github.com/tiger/agent-slo-pipeline/internal/tracecontext"
)

// Transport hands a produced envelope to the collector endpoint. The wire
// protocol behind it is pluggable; failures stay local to the emitter.
type Transport interface {
	Deliver(ctx context.Context, event telemetry.Event) error
}

type discardTransport struct{}

func (discardTransport) Deliver(context.Context, telemetry.Event) error { return nil }

// Config controls producer-side emission behavior.
type Config struct {
	Transport      Transport
	Enforcer       *privacy.Enforcer
	Propagator     *tracecontext.Propagator
	Source         telemetry.Source
	QueueCapacity  int
	DeliverTimeout time.Duration
	Enabled        bool
	Now            func() time.Time
	// Logf receives local delivery failures; they are never surfaced to
	// instrumented code.
	Logf func(format string, args ...any)
}

func (c Config) withDefaults() Config {
	if c.Transport == nil {
		c.Transport = discardTransport{}
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 256
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 200 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logf == nil {
		c.Logf = func(string, ...any) {}
	}
	return c
}

// Stats captures current emitter counters.
type Stats struct {
	Enqueued         uint64
	Dropped          uint64
	Rejected         uint64
	Delivered        uint64
	DeliveryFailures uint64
	QueueDepth       int
}

// Emitter is the non-blocking producer-side emission handle. Emit returns
// immediately; transport I/O happens off the calling path and never raises
// back into the instrumented caller.
type Emitter struct {
	cfg        Config
	enforcer   *privacy.Enforcer
	propagator *tracecontext.Propagator

	enabled atomic.Bool
	queue   chan telemetry.Event
	stop    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	enqueued         atomic.Uint64
	dropped          atomic.Uint64
	rejected         atomic.Uint64
	delivered        atomic.Uint64
	deliveryFailures atomic.Uint64
}

// New constructs and starts an emitter.
func New(cfg Config) (*Emitter, error) {
	if cfg.Enforcer == nil {
		return nil, fmt.Errorf("privacy enforcer is required")
	}
	if cfg.Propagator == nil {
		return nil, fmt.Errorf("trace propagator is required")
	}
	if err := cfg.Source.Validate(); err != nil {
		return nil, fmt.Errorf("emitter source: %w", err)
	}
	cfg = cfg.withDefaults()

	e := &Emitter{
		cfg:        cfg,
		enforcer:   cfg.Enforcer,
		propagator: cfg.Propagator,
		queue:      make(chan telemetry.Event, cfg.QueueCapacity),
		stop:       make(chan struct{}),
	}
	e.enabled.Store(cfg.Enabled)
	e.wg.Add(1)
	go e.run()
	return e, nil
}

// SetEnabled flips the master enable flag.
func (e *Emitter) SetEnabled(enabled bool) { e.enabled.Store(enabled) }

// Enabled reports the master enable flag.
func (e *Emitter) Enabled() bool { return e.enabled.Load() }

// Emit applies redaction and trace derivation, then enqueues the envelope
// without blocking. When the master flag is off this is a near-zero-cost
// no-op. The correlation context used is returned so callers can keep
// propagating it downstream.
func (e *Emitter) Emit(eventType string, payload map[string]any, severity telemetry.Severity, parent *tracecontext.Context) tracecontext.Context {
	if !e.enabled.Load() {
		return tracecontext.Context{}
	}

	var tc tracecontext.Context
	if parent != nil {
		tc = e.propagator.CreateChild(*parent)
	} else {
		tc = e.propagator.Mint()
	}

	event := telemetry.Event{
		EventID:   uuid.NewString(),
		EventTime: e.cfg.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Source:    e.cfg.Source,
		Correlation: telemetry.Correlation{
			TraceID: tc.TraceID.String(),
			SpanID:  tc.SpanID.String(),
		},
		Payload: payload,
	}

	redacted, decision, err := e.enforcer.Apply(event)
	if err != nil {
		if errors.Is(err, privacy.ErrPrivacyViolation) {
			e.rejected.Add(1)
			e.enqueue(e.enforcer.AuditEvent(event, decision))
			return tc
		}
		e.rejected.Add(1)
		return tc
	}

	e.enqueue(redacted)
	if decision.RedactionApplied {
		e.enqueue(e.enforcer.AuditEvent(event, decision))
	}
	return tc
}

// Stats returns current queue/counter snapshots.
func (e *Emitter) Stats() Stats {
	return Stats{
		Enqueued:         e.enqueued.Load(),
		Dropped:          e.dropped.Load(),
		Rejected:         e.rejected.Load(),
		Delivered:        e.delivered.Load(),
		DeliveryFailures: e.deliveryFailures.Load(),
		QueueDepth:       len(e.queue),
	}
}

// Close drains pending events and stops background delivery. An in-flight
// delivery abandoned here loses at most that one event.
func (e *Emitter) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
	})
	return nil
}

func (e *Emitter) enqueue(event telemetry.Event) {
	select {
	case e.queue <- event:
		e.enqueued.Add(1)
	default:
		e.dropped.Add(1)
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			for {
				select {
				case event := <-e.queue:
					e.deliver(event)
				default:
					return
				}
			}
		case event := <-e.queue:
			e.deliver(event)
		}
	}
}

func (e *Emitter) deliver(event telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DeliverTimeout)
	defer cancel()
	if err := e.cfg.Transport.Deliver(ctx, event); err != nil {
		e.deliveryFailures.Add(1)
		e.cfg.Logf("emitter: delivery failed for %s: %v", event.EventType, err)
		return
	}
	e.delivered.Add(1)
}
