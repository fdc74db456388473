// Package metrics exposes Prometheus collectors for the capture worker.
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
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	captureBytesTotal          *prometheus.CounterVec
	capturesInFlight           prometheus.Gauge
	captureSlotWaitSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarc_captures_total",
				Help: "Total number of captures that reached a terminal state, labeled by extractor and status.",
			},
			[]string{"extractor", "status"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webarc_capture_duration_seconds",
				Help:    "Histogram of capture wall time from dispatch to terminal state.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"extractor", "status"},
		)

		captureBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarc_capture_bytes_total",
				Help: "Total number of payload bytes persisted, labeled by extractor.",
			},
			[]string{"extractor"},
		)

		capturesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webarc_captures_in_flight",
				Help: "Number of extractor processes currently running.",
			},
		)

		captureSlotWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webarc_capture_slot_wait_seconds",
				Help:    "Histogram of time captures waited for a concurrency slot.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webarc_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCapture records a capture that reached a terminal state.
func ObserveCapture(extractor, status string, bytes int, duration time.Duration) {
	Init()
	capturesTotal.WithLabelValues(extractor, status).Inc()
	captureDurationSeconds.WithLabelValues(extractor, status).Observe(duration.Seconds())
	if bytes > 0 {
		captureBytesTotal.WithLabelValues(extractor).Add(float64(bytes))
	}
}

// IncInFlight increments the running extractor gauge.
func IncInFlight() {
	Init()
	capturesInFlight.Inc()
}

// DecInFlight decrements the running extractor gauge.
func DecInFlight() {
	Init()
	capturesInFlight.Dec()
}

// ObserveSlotWait records how long a capture waited for a concurrency slot.
func ObserveSlotWait(duration time.Duration) {
	Init()
	captureSlotWaitSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
