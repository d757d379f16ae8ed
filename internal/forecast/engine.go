package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/slo"
)

// ErrInsufficientSamples reports a series too short to extrapolate.
var ErrInsufficientSamples = errors.New("forecast: insufficient samples")

// Sample is one observed SLI value at a point in time.
type Sample struct {
	At    time.Time
	Value float64
}

// Config tunes the forecast engine.
type Config struct {
	// Horizon bounds how far ahead a projected breach is reported.
	Horizon time.Duration
	// MinSamples is the shortest series the engine will extrapolate.
	MinSamples int
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = 6 * time.Hour
	}
	if c.MinSamples < 3 {
		c.MinSamples = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine projects time-to-breach from an SLI trend. The computation is a
// pure function of its inputs: replaying the same series yields the same
// signal. Signals are advisory and never trigger actions on their own.
type Engine struct {
	cfg Config
}

// NewEngine constructs a forecast engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Forecast fits a least-squares trend over the series and reports when
// the SLI is projected to cross the objective. It returns (nil, nil)
// when the trend is flat, improving, or the crossing lies beyond the
// horizon.
func (e *Engine) Forecast(sloID string, objective float64, samples []Sample) (*slo.ForecastSignal, error) {
	if sloID == "" {
		return nil, fmt.Errorf("forecast: slo_id is required")
	}
	if objective <= 0 || objective >= 1 {
		return nil, fmt.Errorf("forecast: objective must be in (0,1)")
	}
	if len(samples) < e.cfg.MinSamples {
		return nil, ErrInsufficientSamples
	}

	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	origin := ordered[0].At
	xs := make([]float64, len(ordered))
	ys := make([]float64, len(ordered))
	for i, s := range ordered {
		xs[i] = s.At.Sub(origin).Seconds()
		ys[i] = s.Value
	}

	intercept, gradient, ok := fitLine(xs, ys)
	if !ok {
		return nil, ErrInsufficientSamples
	}
	if gradient >= 0 {
		// Flat or improving trend; nothing to warn about.
		return nil, nil
	}

	// Solve intercept + gradient*t = objective for the crossing point.
	crossing := (objective - intercept) / gradient
	last := xs[len(xs)-1]
	remaining := time.Duration((crossing - last) * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	if remaining > e.cfg.Horizon {
		return nil, nil
	}

	return &slo.ForecastSignal{
		SLOID:        sloID,
		TimeToBreach: remaining,
		Horizon:      e.cfg.Horizon,
		Confidence:   confidence(xs, ys, intercept, gradient),
		Units:        "seconds",
		ComputedAt:   e.cfg.Now().UTC(),
	}, nil
}

// fitLine is ordinary least squares over (x, y). ok is false when every
// x is identical and no gradient exists.
func fitLine(xs, ys []float64) (intercept, gradient float64, ok bool) {
	n := float64(len(xs))
	var sumX, sumY, sumXX, sumXY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXX += xs[i] * xs[i]
		sumXY += xs[i] * ys[i]
	}
	det := n*sumXX - sumX*sumX
	if det == 0 {
		return 0, 0, false
	}
	gradient = (n*sumXY - sumX*sumY) / det
	intercept = (sumY - gradient*sumX) / n
	return intercept, gradient, true
}

// confidence scores fit quality as the coefficient of determination,
// clamped to [0,1]. A noisy series that barely follows the trend line
// yields a low score and downstream gates discard the signal.
func confidence(xs, ys []float64, intercept, gradient float64) float64 {
	var mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))

	var ssTotal, ssResidual float64
	for i := range ys {
		predicted := intercept + gradient*xs[i]
		ssResidual += (ys[i] - predicted) * (ys[i] - predicted)
		ssTotal += (ys[i] - mean) * (ys[i] - mean)
	}
	if ssTotal == 0 {
		return 0
	}
	r2 := 1 - ssResidual/ssTotal
	return math.Max(0, math.Min(1, r2))
}
