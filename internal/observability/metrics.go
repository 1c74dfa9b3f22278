// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job names used as metric labels.
const (
	JobScreening = "screening"
	JobLabeling  = "labeling"
	JobArchival  = "archival"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Record flow
	RecordsProcessed *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	RecordsPersisted *prometheus.CounterVec

	// Labeling
	LabelsAssigned *prometheus.CounterVec
	PendingRecords prometheus.Gauge

	// Archival
	RecordsArchived prometheus.Counter

	// Latency metrics
	ProviderLatency *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec

	// Job metrics
	JobRunsTotal *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "covered_call_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RecordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_processed_total",
			Help:      "Total number of records or contracts processed by job",
		}, []string{"job"}),
		RecordsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_skipped_total",
			Help:      "Total number of records or symbols skipped by job and reason",
		}, []string{"job", "reason"}),
		RecordsPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_persisted_total",
			Help:      "Total number of records written by job",
		}, []string{"job"}),

		LabelsAssigned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "labeling",
			Name:      "labels_assigned_total",
			Help:      "Total number of records labeled by outcome",
		}, []string{"label"}),
		PendingRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "labeling",
			Name:      "pending_records",
			Help:      "Records still awaiting a label after the last labeling run",
		}),

		RecordsArchived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archival",
			Name:      "records_archived_total",
			Help:      "Total number of records moved to the archive",
		}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Market data provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "method"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total number of failed provider calls",
		}, []string{"provider", "method"}),

		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Total number of job runs by status",
		}, []string{"job", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"job"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"store", "operation"}),

		LastSuccessfulRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of the last successful run by job",
		}, []string{"job"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// OrDefault returns m, or DefaultMetrics when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics
	}
	return m
}

// RecordProcessed adds n to the processed counter of job.
func (m *Metrics) RecordProcessed(job string, n int) {
	m.RecordsProcessed.WithLabelValues(job).Add(float64(n))
}

// RecordSkipped counts one skipped record or symbol.
func (m *Metrics) RecordSkipped(job, reason string) {
	m.RecordsSkipped.WithLabelValues(job, reason).Inc()
}

// RecordPersisted adds n to the persisted counter of job.
func (m *Metrics) RecordPersisted(job string, n int) {
	m.RecordsPersisted.WithLabelValues(job).Add(float64(n))
}

// RecordLabel counts one labeled record.
func (m *Metrics) RecordLabel(label string) {
	m.LabelsAssigned.WithLabelValues(label).Inc()
}

// SetPending sets the pending records gauge.
func (m *Metrics) SetPending(n int) {
	m.PendingRecords.Set(float64(n))
}

// RecordArchived adds n to the archived counter.
func (m *Metrics) RecordArchived(n int) {
	m.RecordsArchived.Add(float64(n))
}

// RecordProviderCall records provider call latency and failure.
func (m *Metrics) RecordProviderCall(provider, method string, seconds float64, err error) {
	m.ProviderLatency.WithLabelValues(provider, method).Observe(seconds)
	if err != nil {
		m.ProviderErrors.WithLabelValues(provider, method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(store, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(store, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(store, operation).Inc()
	}
}

// RecordJobRun records a finished job run. Successful runs also stamp LastSuccessfulRun.
func (m *Metrics) RecordJobRun(job, status string, durationSeconds float64, finishedUnix int64) {
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(durationSeconds)
	if status == "success" {
		m.LastSuccessfulRun.WithLabelValues(job).Set(float64(finishedUnix))
	}
}

// RecordProviderCall records provider call metrics on DefaultMetrics.
func RecordProviderCall(provider, method string, seconds float64, err error) {
	DefaultMetrics.RecordProviderCall(provider, method, seconds, err)
}
