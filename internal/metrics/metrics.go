// Package metrics provides Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestRows counts ingested rows by kind and outcome.
	IngestRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxledger_ingest_rows_total",
		Help: "Ingested rows by kind (lot, disposal, golden_holding) and outcome",
	}, []string{"kind", "outcome"})

	// MatchRecords counts produced match records by status.
	MatchRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxledger_match_records_total",
		Help: "Match records produced by status",
	}, []string{"status"})

	// ReconciliationEvents counts reconciliation events by match result.
	ReconciliationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxledger_reconciliation_events_total",
		Help: "Reconciliation events by match result",
	}, []string{"match_result"})

	// SuspenseOpened counts suspense items opened.
	SuspenseOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxledger_suspense_opened_total",
		Help: "Suspense items opened from reconciliation mismatches",
	})

	// RunDuration tracks pipeline run durations by run kind.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxledger_run_duration_seconds",
		Help:    "Duration of gains and reconciliation runs in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
