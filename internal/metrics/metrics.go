// Package metrics holds the Prometheus instruments of the ingestion pipeline
// and the validation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "austarch"

// Ingest instruments a pipeline run. A nil *Ingest is valid and records
// nothing.
type Ingest struct {
	rows         *prometheus.CounterVec
	rowDuration  prometheus.Histogram
	retries      prometheus.Counter
	batches      *prometheus.CounterVec
	sitesCreated prometheus.Counter
	sitesMatched prometheus.Counter
}

func NewIngest(reg prometheus.Registerer) *Ingest {
	f := promauto.With(reg)
	return &Ingest{
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Source rows processed, by outcome.",
		}, []string{"status"}),
		rowDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "row_duration_seconds",
			Help:      "Time to persist one source row, including retries.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.025,
				0.05, 0.1, 0.25, 0.5,
				1, 2.5, 5,
			},
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "retries_total",
			Help:      "Row transactions retried after a transient datastore error.",
		}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Import batches finished, by final status.",
		}, []string{"status"}),
		sitesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sites_created_total",
			Help:      "Sites created by ingestion.",
		}),
		sitesMatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sites_matched_total",
			Help:      "Rows attached to an existing site.",
		}),
	}
}

func (m *Ingest) Row(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(status).Inc()
	m.rowDuration.Observe(took.Seconds())
}

func (m *Ingest) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Ingest) Site(created bool) {
	if m == nil {
		return
	}
	if created {
		m.sitesCreated.Inc()
		return
	}
	m.sitesMatched.Inc()
}

func (m *Ingest) Batch(status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
}

// Validation exports the latest integrity and record-count results as gauges.
type Validation struct {
	issues   *prometheus.GaugeVec
	counts   *prometheus.GaugeVec
	lastRun  prometheus.Gauge
	duration prometheus.Histogram
}

func NewValidation(reg prometheus.Registerer) *Validation {
	f := promauto.With(reg)
	return &Validation{
		issues: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues",
			Help:      "Records flagged by each integrity check in the last run.",
		}, []string{"check", "severity"}),
		counts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "record_count",
			Help:      "Current totals compared against the expected baselines.",
		}, []string{"metric"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last validation run.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "run_duration_seconds",
			Help:      "Time taken by a full validation run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Validation) Issue(check, severity string, count int64) {
	if m == nil {
		return
	}
	m.issues.WithLabelValues(check, severity).Set(float64(count))
}

func (m *Validation) Count(metric string, actual int64) {
	if m == nil {
		return
	}
	m.counts.WithLabelValues(metric).Set(float64(actual))
}

func (m *Validation) Ran(at time.Time, took time.Duration) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
	m.duration.Observe(took.Seconds())
}

// Handler serves the metrics in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
