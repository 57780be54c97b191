// Package metrics exposes Prometheus instrumentation for sync sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsExtracted counts records delivered to the sink.
	RecordsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "records_extracted_total",
		Help:      "Records delivered to the sink by connector and entity type.",
	}, []string{"connector", "entity"})

	// SyncErrors counts stage and sink failures during sync sessions.
	SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "sync_errors_total",
		Help:      "Errors encountered during sync sessions by connector.",
	}, []string{"connector"})

	// SyncSessions counts completed sync sessions by outcome.
	SyncSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "sync_sessions_total",
		Help:      "Completed sync sessions by connector and outcome.",
	}, []string{"connector", "outcome"})

	// SyncDuration observes wall time per sync session.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harvester",
		Name:      "sync_duration_seconds",
		Help:      "Sync session duration by connector.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"connector"})

	// APICalls counts upstream API calls by connector and stage.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "api_calls_total",
		Help:      "Upstream API calls by connector and extraction stage.",
	}, []string{"connector", "stage"})

	// RateLimiterWait observes time spent blocked on the per-connector
	// sliding window before each API call.
	RateLimiterWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harvester",
		Name:      "rate_limiter_wait_seconds",
		Help:      "Time spent waiting for a rate limiter slot by connector.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"connector"})

	// RecordsDeduplicated counts records dropped as already seen.
	RecordsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "records_deduplicated_total",
		Help:      "Records skipped because their ID was already processed.",
	}, []string{"connector", "entity"})
)

// ObserveSession records the terminal metrics for one sync session.
func ObserveSession(connector string, duration time.Duration, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	SyncSessions.WithLabelValues(connector, outcome).Inc()
	SyncDuration.WithLabelValues(connector).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics endpoint on addr. It blocks until the server
// stops.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
