// Package metrics exposes Prometheus collectors for the application bot.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	browserSessionsActive      prometheus.Gauge
	browserSessionRetriesTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applybot_http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "applybot_http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "applybot_rate_limit_delays_seconds",
				Help:    "Histogram of per-host navigation pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		browserSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "applybot_browser_sessions_active",
				Help: "Number of browser tabs currently held by workers.",
			},
		)

		browserSessionRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "applybot_browser_session_retries_total",
				Help: "Total number of tab-creation attempts that had to be retried.",
			},
		)
	})
}

// SanitizeHost sanitizes a URL or bare host to a lowercase hostname.
// It returns "unknown" if the input is invalid.
func SanitizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a per-host pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// IncBrowserSessions increments the active sessions gauge.
func IncBrowserSessions() {
	browserSessionsActive.Inc()
}

// DecBrowserSessions decrements the active sessions gauge.
func DecBrowserSessions() {
	browserSessionsActive.Dec()
}

// ObserveSessionRetry counts one failed tab-creation attempt that will be
// retried.
func ObserveSessionRetry() {
	browserSessionRetriesTotal.Inc()
}
