// Package metrics exposes prometheus instrumentation for the measurement
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors used across the service. A single instance
// is created at startup and shared; all collectors are concurrency-safe.
type Metrics struct {
	SessionsActive        prometheus.Gauge
	SessionsTotal         prometheus.Counter
	MeasurementsScored    *prometheus.CounterVec
	MeasurementsPersisted prometheus.Counter
	ScoreDistribution     prometheus.Histogram
	BestZoneLookups       *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zonemap",
			Name:      "sessions_active",
			Help:      "Number of live measurement sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zonemap",
			Name:      "sessions_total",
			Help:      "Total measurement sessions opened since start.",
		}),
		MeasurementsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonemap",
			Name:      "measurements_scored_total",
			Help:      "Measurements scored, by network type.",
		}, []string{"network_type"}),
		MeasurementsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zonemap",
			Name:      "measurements_persisted_total",
			Help:      "Measurements written to the record store.",
		}),
		ScoreDistribution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zonemap",
			Name:      "quality_score",
			Help:      "Distribution of computed quality scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		BestZoneLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonemap",
			Name:      "bestzone_lookups_total",
			Help:      "Best-zone lookups, by outcome (hit|miss|error).",
		}, []string{"outcome"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonemap",
			Name:      "errors_total",
			Help:      "Errors surfaced to clients, by kind.",
		}, []string{"kind"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.MeasurementsScored,
		m.MeasurementsPersisted,
		m.ScoreDistribution,
		m.BestZoneLookups,
		m.ErrorsTotal,
	)

	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
