// Package metrics exposes Prometheus collectors for the sync service.
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
	syncCyclesTotal             *prometheus.CounterVec
	syncCycleDurationSeconds    prometheus.Histogram
	syncEntries                 prometheus.Gauge
	syncConsecutiveErrors       prometheus.Gauge
	syncConsecutiveEmpty        prometheus.Gauge
	syncForcedReloadsTotal      *prometheus.CounterVec
	syncEscalationsTotal        *prometheus.CounterVec
	syncPersistFailuresTotal    *prometheus.CounterVec
	syncScreenshotFailuresTotal prometheus.Counter
	syncNotifyFailuresTotal     prometheus.Counter
	syncFetchBytesTotal         *prometheus.CounterVec
	syncFetchPacingSeconds      *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_cycles_total",
				Help: "Total number of sync cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		syncCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leaderboard_sync_cycle_duration_seconds",
				Help:    "Histogram of sync cycle durations, sleep excluded.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		syncEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leaderboard_sync_entries",
				Help: "Number of entries in the last persisted snapshot.",
			},
		)

		syncConsecutiveErrors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leaderboard_sync_consecutive_errors",
				Help: "Current run of error cycles.",
			},
		)

		syncConsecutiveEmpty = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leaderboard_sync_consecutive_empty",
				Help: "Current run of empty-result cycles.",
			},
		)

		syncForcedReloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_forced_reloads_total",
				Help: "Total number of forced page reloads, labeled by trigger.",
			},
			[]string{"trigger"},
		)

		syncEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_escalations_total",
				Help: "Total number of failure escalations, labeled by reason.",
			},
			[]string{"reason"},
		)

		syncPersistFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_persist_failures_total",
				Help: "Total number of swallowed persistence failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		syncScreenshotFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_screenshot_failures_total",
				Help: "Total number of failed screenshot captures.",
			},
		)

		syncNotifyFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_notify_failures_total",
				Help: "Total number of failed update notices.",
			},
		)

		syncFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_sync_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		syncFetchPacingSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leaderboard_sync_fetch_pacing_seconds",
				Help:    "Histogram of fetch rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one cycle's outcome and duration.
func ObserveCycle(outcome string, duration time.Duration) {
	Init()
	syncCyclesTotal.WithLabelValues(outcome).Inc()
	syncCycleDurationSeconds.Observe(duration.Seconds())
}

// SetCounters mirrors the escalation counters.
func SetCounters(errors, empty int) {
	Init()
	syncConsecutiveErrors.Set(float64(errors))
	syncConsecutiveEmpty.Set(float64(empty))
}

// SetEntries records the size of the last persisted snapshot.
func SetEntries(n int) {
	Init()
	syncEntries.Set(float64(n))
}

// ObserveForcedReload counts a forced reload.
func ObserveForcedReload(trigger string) {
	Init()
	syncForcedReloadsTotal.WithLabelValues(trigger).Inc()
}

// ObserveEscalation counts a failure escalation.
func ObserveEscalation(reason string) {
	Init()
	syncEscalationsTotal.WithLabelValues(reason).Inc()
}

// ObservePersistFailure counts a swallowed write failure for sink.
func ObservePersistFailure(sink string) {
	Init()
	syncPersistFailuresTotal.WithLabelValues(sink).Inc()
}

// ObserveScreenshotFailure counts a failed screenshot.
func ObserveScreenshotFailure() {
	Init()
	syncScreenshotFailuresTotal.Inc()
}

// ObserveNotifyFailure counts a failed update notice.
func ObserveNotifyFailure() {
	Init()
	syncNotifyFailuresTotal.Inc()
}

// ObserveFetch records bytes fetched from site.
func ObserveFetch(site string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		syncFetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveFetchPacing records the duration of a rate limit wait.
func ObserveFetchPacing(site string, duration time.Duration) {
	Init()
	syncFetchPacingSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
