// Package metrics exposes Prometheus collectors for poll cycles and session
// transitions. All recording methods are safe on a nil receiver so components
// can run without instrumentation.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcomes recorded by the poller.
const (
	OutcomeApplied         = "applied"
	OutcomeStale           = "stale"
	OutcomeFilterChanged   = "filter_changed"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeError           = "error"
)

// Options configures collector registration.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// Metrics groups the collectors used by geowatch.
type Metrics struct {
	CyclesDispatched   prometheus.Counter
	CyclesCompleted    *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	InFlight           prometheus.Gauge
	LastAppliedSeq     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
}

// New constructs and registers the collectors.
func New(opts Options) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "geowatch"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		CyclesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_dispatched_total",
			Help:      "Total number of poll cycles dispatched.",
		}),
		CyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_completed_total",
			Help:      "Total number of completed poll cycles partitioned by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Histogram of poll cycle latencies in seconds.",
			Buckets:   buckets,
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_in_flight",
			Help:      "Number of poll cycles currently awaiting a response.",
		}),
		LastAppliedSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "last_applied_sequence",
			Help:      "Sequence number of the most recently applied poll cycle.",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total number of session state transitions partitioned by target state.",
		}, []string{"state"}),
	}

	collectors := []prometheus.Collector{
		m.CyclesDispatched, m.CyclesCompleted, m.CycleDuration,
		m.InFlight, m.LastAppliedSeq, m.SessionTransitions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("collector already registered: %w", err)
			}
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Dispatched records a new poll cycle.
func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.CyclesDispatched.Inc()
	m.InFlight.Inc()
}

// Completed records the settlement of a cycle with the given outcome.
func (m *Metrics) Completed(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.CyclesCompleted.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(seconds)
}

// Applied records the sequence number of an applied cycle.
func (m *Metrics) Applied(seq uint64) {
	if m == nil {
		return
	}
	m.LastAppliedSeq.Set(float64(seq))
}

// SessionTransition records a session state change.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}
