package burnrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiger/agent-slo-pipeline/api/slo"
)

// DedupStore tracks alert fingerprints inside the cool-down interval.
type DedupStore interface {
	// MarkFiring records a firing and reports whether it is the first for
	// this fingerprint within the cool-down.
	MarkFiring(ctx context.Context, fingerprint string, cooldown time.Duration) (bool, error)
}

// MemoryDedupStore is the process-local dedup store. Tests construct a
// fresh instance each; nothing is package-global.
type MemoryDedupStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDedupStore returns an empty in-memory store.
func NewMemoryDedupStore(now func() time.Time) *MemoryDedupStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryDedupStore{seen: map[string]time.Time{}, now: now}
}

// MarkFiring implements DedupStore.
func (s *MemoryDedupStore) MarkFiring(_ context.Context, fingerprint string, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.seen[fingerprint]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	s.seen[fingerprint] = now
	for fp, last := range s.seen {
		if now.Sub(last) >= cooldown {
			delete(s.seen, fp)
		}
	}
	return true, nil
}

// Metrics exposes alert engine counters.
type Metrics struct {
	Fired      *prometheus.CounterVec
	Suppressed *prometheus.CounterVec
	Skipped    *prometheus.CounterVec
}

// NewMetrics registers alert engine counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "alerts", Name: "fired_total",
			Help: "Alerts delivered after dual-window breach.",
		}, []string{"alert_id"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "alerts", Name: "suppressed_total",
			Help: "Repeat firings swallowed inside the dedup cool-down.",
		}, []string{"alert_id"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "alerts", Name: "skipped_total",
			Help: "Evaluations skipped for insufficient traffic.",
		}, []string{"alert_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.Fired, m.Suppressed, m.Skipped)
	}
	return m
}

// Config wires the alert engine.
type Config struct {
	Store    DedupStore
	Cooldown time.Duration
	Metrics  *Metrics
	Now      func() time.Time
	// OnAlert receives delivered (non-suppressed) alert events.
	OnAlert func(event slo.AlertEvent)
}

func (c Config) withDefaults() Config {
	if c.Store == nil {
		c.Store = NewMemoryDedupStore(c.Now)
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OnAlert == nil {
		c.OnAlert = func(slo.AlertEvent) {}
	}
	return c
}

type stateKey struct {
	alertID   string
	dimension string
}

// alertState is guarded per (alert_config, dimension) key so unrelated
// SLOs never contend on one lock.
type alertState struct {
	mu     sync.Mutex
	firing bool
}

// Engine is the multi-window burn-rate alert evaluator with noise
// control.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	states map[stateKey]*alertState
}

// NewEngine constructs an alert engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), states: map[stateKey]*alertState{}}
}

// Fingerprint is the stable dedup identity of one (alert, dimension).
func Fingerprint(alertID, dimension string) string {
	sum := sha256.Sum256([]byte(alertID + "\x00" + dimension))
	return hex.EncodeToString(sum[:])
}

// BurnRate converts a good-ratio SLI value into a burn rate against the
// objective's error budget.
func BurnRate(value slo.SLIValue, objective float64) float64 {
	budget := 1 - objective
	if budget <= 0 {
		return 0
	}
	return (1 - value.Value) / budget
}

// Evaluate runs one state-machine step for (config, dimension) against
// the fast and confirm window SLI values. A firing requires BOTH windows
// to exceed their thresholds simultaneously; recovery requires both to
// clear. Windows below min_traffic suppress evaluation entirely: the
// signal is insufficient, not OK.
func (e *Engine) Evaluate(ctx context.Context, cfg slo.AlertConfig, dimension string, fast, confirm slo.SLIValue) (*slo.AlertEvent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("alert config: %w", err)
	}

	if !e.eligible(cfg, fast) || !e.eligible(cfg, confirm) {
		e.cfg.Metrics.Skipped.WithLabelValues(cfg.AlertID).Inc()
		return nil, nil
	}

	fastBreached := BurnRate(fast, cfg.SLOObjective) >= cfg.Windows.Fast.BurnThreshold
	confirmBreached := BurnRate(confirm, cfg.SLOObjective) >= cfg.Windows.Confirm.BurnThreshold

	state := e.state(cfg.AlertID, dimension)
	state.mu.Lock()
	defer state.mu.Unlock()

	switch {
	case fastBreached && confirmBreached:
		state.firing = true
		return e.fire(ctx, cfg, dimension)
	case !fastBreached && !confirmBreached:
		state.firing = false
		return nil, nil
	default:
		// A breach in only one window never fires; an active firing holds
		// until both windows clear.
		return nil, nil
	}
}

// Firing reports the current state for (alert, dimension).
func (e *Engine) Firing(alertID, dimension string) bool {
	state := e.state(alertID, dimension)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.firing
}

func (e *Engine) eligible(cfg slo.AlertConfig, value slo.SLIValue) bool {
	return !value.InsufficientData && value.Denominator >= cfg.MinTraffic
}

func (e *Engine) fire(ctx context.Context, cfg slo.AlertConfig, dimension string) (*slo.AlertEvent, error) {
	fingerprint := Fingerprint(cfg.AlertID, dimension)
	first, err := e.cfg.Store.MarkFiring(ctx, fingerprint, e.cfg.Cooldown)
	if err != nil {
		// A dedup store outage must not lose alerts; deliver and let the
		// receiver dedup downstream.
		first = true
	}

	event := &slo.AlertEvent{
		AlertID:          cfg.AlertID,
		Dimension:        dimension,
		FiredAt:          e.cfg.Now().UTC(),
		DedupFingerprint: fingerprint,
		Suppressed:       !first,
		WindowsBreached:  []string{"fast", "confirm"},
		RoutingMode:      cfg.RoutingMode,
	}
	if event.Suppressed {
		e.cfg.Metrics.Suppressed.WithLabelValues(cfg.AlertID).Inc()
		return event, nil
	}
	e.cfg.Metrics.Fired.WithLabelValues(cfg.AlertID).Inc()
	e.cfg.OnAlert(*event)
	return event, nil
}

func (e *Engine) state(alertID, dimension string) *alertState {
	key := stateKey{alertID: alertID, dimension: dimension}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[key]
	if !ok {
		state = &alertState{}
		e.states[key] = state
	}
	return state
}
