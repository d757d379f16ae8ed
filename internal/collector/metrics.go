package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes collector counters on a Prometheus registerer.
type Metrics struct {
	Forwarded      prometheus.Counter
	Rejected       *prometheus.CounterVec
	Shed           prometheus.Counter
	Redacted       prometheus.Counter
	AuditEmitted   prometheus.Counter
	ExportFailures prometheus.Counter
}

// NewMetrics registers collector counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "collector", Name: "forwarded_total",
			Help: "Events validated, redacted, and fanned out.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "collector", Name: "rejected_total",
			Help: "Events rejected per reason code.",
		}, []string{"reason"}),
		Shed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "collector", Name: "shed_total",
			Help: "Events load-shed on queue saturation.",
		}),
		Redacted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "collector", Name: "redacted_total",
			Help: "Events forwarded with at least one fingerprinted field.",
		}),
		AuditEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "collector", Name: "privacy_audits_total",
			Help: "Privacy audit events emitted by the privacy guard.",
		}),
		ExportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aslo", Subsystem: "collector", Name: "export_failures_total",
			Help: "Export sink delivery failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Forwarded, m.Rejected, m.Shed, m.Redacted, m.AuditEmitted, m.ExportFailures)
	}
	return m
}
