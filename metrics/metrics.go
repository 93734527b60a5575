// Package metrics exposes Prometheus instrumentation for the pipeline.
//
// Each process owns its own registry so tests can build as many instances as
// they need without collisions on the default global registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's counters and histograms.
type Metrics struct {
	registry *prometheus.Registry

	admissions     *prometheus.CounterVec
	jobsProcessed  *prometheus.CounterVec
	vectorsIndexed *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
}

// New builds a metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sluice_intake_files_total",
		Help: "Files processed at intake, by admission decision.",
	}, []string{"tenant_id", "status"})

	m.jobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sluice_jobs_total",
		Help: "Queue jobs processed, by stage and outcome.",
	}, []string{"stage", "outcome"})

	m.vectorsIndexed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sluice_vectors_indexed_total",
		Help: "Vectors upserted into tenant collections.",
	}, []string{"tenant_id", "collection_kind"})

	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sluice_stage_seconds",
		Help:    "Per-job processing duration by pipeline stage.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	m.registry.MustRegister(m.admissions, m.jobsProcessed, m.vectorsIndexed, m.stageDuration)
	return m
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAdmission counts one intake decision (accepted, rejected,
// quarantined).
func (m *Metrics) RecordAdmission(tenantID, status string) {
	m.admissions.WithLabelValues(tenantID, status).Inc()
}

// RecordJob counts one processed queue job.
func (m *Metrics) RecordJob(stage, outcome string) {
	m.jobsProcessed.WithLabelValues(stage, outcome).Inc()
}

// RecordVectors counts vectors written for a tenant, split by text vs image
// collection.
func (m *Metrics) RecordVectors(tenantID, collectionKind string, count int) {
	m.vectorsIndexed.WithLabelValues(tenantID, collectionKind).Add(float64(count))
}

// ObserveStage records a stage duration from its start time.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
