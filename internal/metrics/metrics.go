// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal         *prometheus.CounterVec
	retryAttemptsTotal    *prometheus.CounterVec
	retryBackoffSeconds   *prometheus.HistogramVec
	breakerTransitions    *prometheus.CounterVec
	breakerOpenDenials    prometheus.Counter
	authAttemptsTotal     *prometheus.CounterVec
	recordsSavedTotal     *prometheus.CounterVec
	activeRegions         prometheus.Gauge
	workerRestartsTotal   *prometheus.CounterVec
	requestDurationSecond *prometheus.HistogramVec
	opsRequestsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init registers all collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_searches_total",
				Help: "Total case searches, labeled by partition and outcome.",
			},
			[]string{"partition", "outcome"},
		)

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retry_attempts_total",
				Help: "Retry attempts, labeled by operation.",
			},
			[]string{"operation"},
		)

		retryBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_retry_backoff_seconds",
				Help:    "Backoff durations slept before retries.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		)

		breakerTransitions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_breaker_transitions_total",
				Help: "Circuit breaker state transitions, labeled by target state.",
			},
			[]string{"state"},
		)

		breakerOpenDenials = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_breaker_open_denials_total",
				Help: "Calls denied because the circuit breaker was open.",
			},
		)

		authAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_auth_attempts_total",
				Help: "Login sequences run, labeled by result.",
			},
			[]string{"result"},
		)

		recordsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_saved_total",
				Help: "Records persisted, labeled by save status.",
			},
			[]string{"status"},
		)

		activeRegions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_regions",
				Help: "Partitions currently being processed.",
			},
		)

		workerRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_worker_restarts_total",
				Help: "Whole-worker restarts, labeled by partition.",
			},
			[]string{"partition"},
		)

		requestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_request_duration_seconds",
				Help:    "Origin request latencies, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		opsRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_ops_requests_total",
				Help: "Operational endpoint requests, labeled by method and status.",
			},
			[]string{"method", "status"},
		)
	})
}

// Middleware counts requests served by the operational HTTP endpoint.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if opsRequestsTotal != nil {
			opsRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ObserveSearch records one search outcome for a partition.
func ObserveSearch(partition, outcome string) {
	if searchesTotal != nil {
		searchesTotal.WithLabelValues(partition, outcome).Inc()
	}
}

// ObserveRetry records a retry attempt and the backoff it slept.
func ObserveRetry(operation string, backoff time.Duration) {
	if retryAttemptsTotal != nil {
		retryAttemptsTotal.WithLabelValues(operation).Inc()
	}
	if retryBackoffSeconds != nil {
		retryBackoffSeconds.WithLabelValues(operation).Observe(backoff.Seconds())
	}
}

// ObserveBreakerTransition records a circuit breaker state change.
func ObserveBreakerTransition(state string) {
	if breakerTransitions != nil {
		breakerTransitions.WithLabelValues(state).Inc()
	}
}

// ObserveBreakerDenial records a call rejected by an open breaker.
func ObserveBreakerDenial() {
	if breakerOpenDenials != nil {
		breakerOpenDenials.Inc()
	}
}

// ObserveAuth records the result of one login sequence.
func ObserveAuth(result string) {
	if authAttemptsTotal != nil {
		authAttemptsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveRecordSaved records a persisted record by save status.
func ObserveRecordSaved(status string) {
	if recordsSavedTotal != nil {
		recordsSavedTotal.WithLabelValues(status).Inc()
	}
}

// SetActiveRegions tracks concurrent partition workers.
func SetActiveRegions(n float64) {
	if activeRegions != nil {
		activeRegions.Set(n)
	}
}

// ObserveWorkerRestart records a whole-worker restart for a partition.
func ObserveWorkerRestart(partition string) {
	if workerRestartsTotal != nil {
		workerRestartsTotal.WithLabelValues(partition).Inc()
	}
}

// ObserveRequestDuration records one origin round-trip.
func ObserveRequestDuration(kind string, d time.Duration) {
	if requestDurationSecond != nil {
		requestDurationSecond.WithLabelValues(kind).Observe(d.Seconds())
	}
}
