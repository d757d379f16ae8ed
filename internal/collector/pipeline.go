package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
	"github.com/tiger/agent-slo-pipeline/internal/contract"
	"github.com/tiger/agent-slo-pipeline/internal/export"
	"github.com/tiger/agent-slo-pipeline/internal/privacy"
)

// RejectReason enumerates schema-guard and privacy-guard reject codes.
type RejectReason string

const (
	ReasonInvalidEnvelope  RejectReason = "INVALID_ENVELOPE"
	ReasonMissingEventType RejectReason = "MISSING_EVENT_TYPE"
	ReasonUnknownEventType RejectReason = "UNKNOWN_EVENT_TYPE"
	ReasonInvalidPayload   RejectReason = "INVALID_PAYLOAD"
	ReasonSchemaLoadError  RejectReason = "SCHEMA_LOAD_ERROR"
	ReasonPrivacyViolation RejectReason = "PRIVACY_VIOLATION"
)

// RejectedSample retains one rejected event for operator inspection.
type RejectedSample struct {
	Reason RejectReason
	Event  telemetry.Event
	At     time.Time
}

// Config wires the collector pipeline stages.
type Config struct {
	Registry *contract.Registry
	Enforcer *privacy.Enforcer
	// ExportSink receives every forwarded envelope.
	ExportSink export.Sink
	// SLIFeed receives every forwarded envelope for window aggregation.
	SLIFeed func(event telemetry.Event)
	Metrics  *Metrics

	Workers        int
	QueueCapacity  int
	SampleCapacity int
	ExportTimeout  time.Duration
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ExportSink == nil {
		c.ExportSink = export.DiscardSink{}
	}
	if c.SLIFeed == nil {
		c.SLIFeed = func(telemetry.Event) {}
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 1024
	}
	if c.SampleCapacity < 1 {
		c.SampleCapacity = 32
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 200 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stats captures current pipeline counters.
type Stats struct {
	Submitted      uint64
	Accepted       uint64
	Forwarded      uint64
	Rejected       uint64
	Shed           uint64
	Redacted       uint64
	AuditsEmitted  uint64
	ExportFailures uint64
	QueueDepth     int
}

// Pipeline runs the fixed stage order Schema Guard, Privacy Guard,
// Enrichment, Fan-out. Independent events are processed concurrently;
// cross-event ordering within a trace is not preserved, consumers read
// event ranges.
type Pipeline struct {
	cfg   Config
	queue *boundedQueue

	closeOnce sync.Once
	wg        sync.WaitGroup

	submitted      atomic.Uint64
	accepted       atomic.Uint64
	forwarded      atomic.Uint64
	rejected       atomic.Uint64
	shed           atomic.Uint64
	redacted       atomic.Uint64
	auditsEmitted  atomic.Uint64
	exportFailures atomic.Uint64

	sampleMu sync.Mutex
	samples  []RejectedSample
}

// New constructs and starts a collector pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("contract registry is required")
	}
	if cfg.Enforcer == nil {
		return nil, fmt.Errorf("privacy enforcer is required")
	}
	cfg = cfg.withDefaults()

	p := &Pipeline{
		cfg:     cfg,
		queue:   newBoundedQueue(cfg.QueueCapacity),
		samples: make([]RejectedSample, 0, cfg.SampleCapacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Submit enqueues one inbound envelope without blocking the producer.
func (p *Pipeline) Submit(event telemetry.Event) {
	p.submitted.Add(1)
	accepted, shed := p.queue.push(event)
	if accepted {
		p.accepted.Add(1)
	}
	if shed > 0 {
		p.shed.Add(uint64(shed))
		p.cfg.Metrics.Shed.Add(float64(shed))
	}
}

// Close drains queued events and stops the workers.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.queue.close()
		p.wg.Wait()
	})
	return nil
}

// Stats returns current counter snapshots.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:      p.submitted.Load(),
		Accepted:       p.accepted.Load(),
		Forwarded:      p.forwarded.Load(),
		Rejected:       p.rejected.Load(),
		Shed:           p.shed.Load(),
		Redacted:       p.redacted.Load(),
		AuditsEmitted:  p.auditsEmitted.Load(),
		ExportFailures: p.exportFailures.Load(),
		QueueDepth:     p.queue.depth(),
	}
}

// RejectedSamples returns the bounded debug sample of recent rejections.
func (p *Pipeline) RejectedSamples() []RejectedSample {
	p.sampleMu.Lock()
	defer p.sampleMu.Unlock()
	out := make([]RejectedSample, len(p.samples))
	copy(out, p.samples)
	return out
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		event, ok := p.queue.pop()
		if !ok {
			return
		}
		p.process(event)
	}
}

func (p *Pipeline) process(event telemetry.Event) {
	// Stage 1: schema guard.
	if reason, ok := p.schemaGuard(event); !ok {
		p.reject(reason, event)
		return
	}

	// Stage 2: privacy guard. The guard's own audit events bypass stages
	// 1-2; they are built collector-side from a registered contract.
	redactedEvent, decision, err := p.cfg.Enforcer.Apply(event)
	if decision.ViolationType != privacy.ViolationNone {
		p.auditsEmitted.Add(1)
		p.cfg.Metrics.AuditEmitted.Inc()
		p.fanOut(p.enrich(p.cfg.Enforcer.AuditEvent(event, decision)))
	}
	if err != nil {
		p.reject(ReasonPrivacyViolation, event)
		return
	}
	if decision.RedactionApplied {
		p.redacted.Add(1)
		p.cfg.Metrics.Redacted.Inc()
	}

	// Stage 3: enrichment. Stage 4: fan-out.
	p.fanOut(p.enrich(redactedEvent))
}

func (p *Pipeline) schemaGuard(event telemetry.Event) (RejectReason, bool) {
	if event.EventType == "" {
		return ReasonMissingEventType, false
	}
	normalized := event
	severity, err := telemetry.NormalizeSeverity(string(event.Severity))
	if err != nil {
		return ReasonInvalidEnvelope, false
	}
	normalized.Severity = severity
	if err := normalized.Validate(); err != nil {
		return ReasonInvalidEnvelope, false
	}

	schema, err := p.cfg.Registry.GetByType(event.EventType)
	if err != nil {
		if errors.Is(err, contract.ErrSchemaNotFound) {
			return ReasonUnknownEventType, false
		}
		return ReasonSchemaLoadError, false
	}
	if err := schema.ValidatePayload(event.Payload); err != nil {
		return ReasonInvalidPayload, false
	}
	return "", true
}

func (p *Pipeline) enrich(event telemetry.Event) telemetry.Event {
	event.ObservedTime = p.cfg.Now().UTC()
	if severity, err := telemetry.NormalizeSeverity(string(event.Severity)); err == nil {
		event.Severity = severity
	}
	return event
}

func (p *Pipeline) fanOut(event telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExportTimeout)
	defer cancel()
	if err := p.cfg.ExportSink.Export(ctx, event); err != nil {
		p.exportFailures.Add(1)
		p.cfg.Metrics.ExportFailures.Inc()
	}
	p.cfg.SLIFeed(event)
	p.forwarded.Add(1)
	p.cfg.Metrics.Forwarded.Inc()
}

func (p *Pipeline) reject(reason RejectReason, event telemetry.Event) {
	p.rejected.Add(1)
	p.cfg.Metrics.Rejected.WithLabelValues(string(reason)).Inc()

	p.sampleMu.Lock()
	defer p.sampleMu.Unlock()
	if len(p.samples) == cap(p.samples) && len(p.samples) > 0 {
		copy(p.samples, p.samples[1:])
		p.samples = p.samples[:len(p.samples)-1]
	}
	p.samples = append(p.samples, RejectedSample{
		Reason: reason,
		Event:  event,
		At:     p.cfg.Now().UTC(),
	})
}
