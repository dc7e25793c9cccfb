// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

package rcforest

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional Prometheus instrumentation bundle for a Forest,
// mirroring the role comp/core/telemetry plays for the rest of the
// teacher's monorepo: a caller registers it against their own
// prometheus.Registerer, and a Forest with no Metrics attached runs with
// zero telemetry overhead.
type Metrics struct {
	accepted  prometheus.Counter
	evicted   prometheus.Counter
	rejected  prometheus.Counter
	treeMass  prometheus.Gauge
	scores    prometheus.Histogram
}

// NewMetrics builds a Metrics bundle under the given namespace/subsystem
// and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "samples_accepted_total",
			Help: "Number of stream points accepted into a sampler without eviction.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "samples_evicted_total",
			Help: "Number of stream points accepted into a sampler by replacing an existing entry.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "samples_rejected_total",
			Help: "Number of times a sampler rejected a stream point (counted once per rejecting sampler).",
		}),
		treeMass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "total_mass",
			Help: "Total sample occupancy across all trees in the forest.",
		}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "anomaly_score",
			Help:    "Distribution of anomaly scores returned by GetAnomalyScore.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
	reg.MustRegister(m.accepted, m.evicted, m.rejected, m.treeMass, m.scores)
	return m
}

// Attach installs m on f so subsequent Update/GetAnomalyScore calls
// report into it.
func (f *Forest) Attach(m *Metrics) { f.metrics = m }

func (m *Metrics) observeReject() {
	m.rejected.Inc()
}

func (m *Metrics) observeAccept(warmup bool) {
	if warmup {
		m.accepted.Inc()
	} else {
		m.evicted.Inc()
	}
}

func (m *Metrics) observeUpdate(totalMass int) {
	m.treeMass.Set(float64(totalMass))
}

func (m *Metrics) observeScore(score float64) {
	m.scores.Observe(score)
}
