package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	IngestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Total number of per-source ingestion runs by terminal status.",
		},
		[]string{"source", "status"},
	)

	IngestRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Duration of per-source ingestion runs.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	// outcome: attempted, persisted, skipped, duplicate
	IngestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Records handed to persistence, by outcome.",
		},
		[]string{"source", "outcome"},
	)

	CoercionWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_coercion_warnings_total",
			Help: "Field values stored as null after failed type coercion.",
		},
		[]string{"source", "field"},
	)

	RejectedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rejected_rows_total",
			Help: "Malformed artifact rows skipped during decode.",
		},
		[]string{"source"},
	)

	IngestFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_failures_total",
			Help: "Failed or partial ingestion runs by error type.",
		},
		[]string{"source", "error_type"},
	)

	BrowserSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_sessions_active",
			Help: "Browser sessions currently acquired.",
		},
	)
)
