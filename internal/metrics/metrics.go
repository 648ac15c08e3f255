// Package metrics exposes the Prometheus collectors that describe the
// pipeline itself: envelopes routed between roles, lines analyzed, sampling
// cycles and the status API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	envelopesTotal             *prometheus.CounterVec
	linesTotal                 *prometheus.CounterVec
	jobErrorsTotal             *prometheus.CounterVec
	sampleFailuresTotal        prometheus.Counter
	sampleCycleSeconds         prometheus.Histogram
	activeStreams              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		envelopesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plotmon_envelopes_total",
				Help: "Envelopes routed between pipeline roles, labeled by kind.",
			},
			[]string{"kind"},
		)

		linesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plotmon_log_lines_total",
				Help: "Log lines analyzed, labeled by source (replay or live).",
			},
			[]string{"source"},
		)

		jobErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plotmon_job_errors_total",
				Help: "Per-job stream failures, labeled by reason.",
			},
			[]string{"reason"},
		)

		sampleFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "plotmon_sample_failures_total",
				Help: "Per-pid resource reads that failed.",
			},
		)

		sampleCycleSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plotmon_sample_cycle_seconds",
				Help:    "Duration of resource sampling cycles.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)

		activeStreams = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "plotmon_active_streams",
				Help: "Number of log streams currently followed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEnvelope counts one routed envelope.
func ObserveEnvelope(kind string) {
	if envelopesTotal == nil {
		return
	}
	envelopesTotal.WithLabelValues(kind).Inc()
}

// ObserveLines counts analyzed lines for a source ("replay" or "live").
func ObserveLines(source string, n int) {
	if linesTotal == nil || n <= 0 {
		return
	}
	linesTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveJobError counts a per-job failure.
func ObserveJobError(reason string) {
	if jobErrorsTotal == nil {
		return
	}
	jobErrorsTotal.WithLabelValues(reason).Inc()
}

// ObserveSampleCycle records a sampling cycle and its per-pid failures.
func ObserveSampleCycle(duration time.Duration, failures int) {
	if sampleCycleSeconds == nil {
		return
	}
	sampleCycleSeconds.Observe(duration.Seconds())
	if failures > 0 {
		sampleFailuresTotal.Add(float64(failures))
	}
}

// IncActiveStreams increments the followed streams gauge.
func IncActiveStreams() {
	if activeStreams != nil {
		activeStreams.Inc()
	}
}

// DecActiveStreams decrements the followed streams gauge.
func DecActiveStreams() {
	if activeStreams != nil {
		activeStreams.Dec()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
