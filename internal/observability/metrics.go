package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "moldline"

// IngestMetrics exports ingestion stage telemetry to Prometheus. A nil
// *IngestMetrics records nothing.
type IngestMetrics struct {
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	fetchedBytes  prometheus.Counter
	archiveDedup  prometheus.Counter
	loadedRows    *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

func NewIngestMetrics(reg prometheus.Registerer) (*IngestMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &IngestMetrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of ingestion stages.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "stage_errors_total",
			Help:      "Failed ingestion stages by error kind.",
		}, []string{"stage", "kind"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "fetch_attempts_total",
			Help:      "Remote fetch attempts by outcome.",
		}, []string{"outcome"}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "fetched_bytes_total",
			Help:      "Dataset bytes received by the fetcher.",
		}),
		archiveDedup: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "archive_dedup_total",
			Help:      "Archives skipped because the digest key already existed.",
		}),
		loadedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "loaded_rows_total",
			Help:      "Rows committed by the loader per table.",
		}, []string{"table"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Completed ingestion runs by status.",
		}, []string{"status"}),
	}

	var err error
	if m.stageDuration, err = register(reg, m.stageDuration); err != nil {
		return nil, err
	}
	if m.stageErrors, err = register(reg, m.stageErrors); err != nil {
		return nil, err
	}
	if m.fetchAttempts, err = register(reg, m.fetchAttempts); err != nil {
		return nil, err
	}
	if m.fetchedBytes, err = register(reg, m.fetchedBytes); err != nil {
		return nil, err
	}
	if m.archiveDedup, err = register(reg, m.archiveDedup); err != nil {
		return nil, err
	}
	if m.loadedRows, err = register(reg, m.loadedRows); err != nil {
		return nil, err
	}
	if m.runs, err = register(reg, m.runs); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the already registered collector on a duplicate so a
// second constructor call in the same process shares the series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register ingest metric: %w", err)
	}
	return c, nil
}

func (m *IngestMetrics) RecordStage(stage string, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if kind != "" {
		m.stageErrors.WithLabelValues(stage, kind).Inc()
	}
}

func (m *IngestMetrics) RecordFetchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(outcome).Inc()
}

func (m *IngestMetrics) RecordFetchedBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.fetchedBytes.Add(float64(n))
}

func (m *IngestMetrics) RecordArchiveDedup() {
	if m == nil {
		return
	}
	m.archiveDedup.Inc()
}

func (m *IngestMetrics) RecordLoadedRows(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.loadedRows.WithLabelValues(table).Add(float64(n))
}

func (m *IngestMetrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// APIMetrics exports HTTP request telemetry. A nil *APIMetrics records
// nothing.
type APIMetrics struct {
	inflight prometheus.Gauge
	requests *prometheus.HistogramVec
}

func NewAPIMetrics(reg prometheus.Registerer) (*APIMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &APIMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "inflight_requests",
			Help:      "HTTP requests currently being served.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	var err error
	if m.inflight, err = register(reg, m.inflight); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *APIMetrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *APIMetrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

func (m *APIMetrics) ObserveAPI(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
