// Package metrics exposes Prometheus collectors for the invite crawler.
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
	catalogSavesTotal         *prometheus.CounterVec
	catalogEntries            prometheus.Gauge
	corruptionDecisionsTotal  *prometheus.CounterVec
	publishFailuresTotal      *prometheus.CounterVec
	resolveResultsTotal       *prometheus.CounterVec
	rateLimitDelaysSeconds    *prometheus.HistogramVec
	cycleSleepSeconds         prometheus.Gauge
	snapshotMirrorFailedTotal prometheus.Counter
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		catalogSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invite_crawler_catalog_saves_total",
				Help: "Catalog save attempts, labeled by result.",
			},
			[]string{"result"},
		)

		catalogEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "invite_crawler_catalog_entries",
				Help: "Number of entries in the last persisted catalog.",
			},
		)

		corruptionDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invite_crawler_corruption_decisions_total",
				Help: "Decisions taken after reading a corrupt catalog, labeled by decision.",
			},
			[]string{"decision"},
		)

		publishFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invite_crawler_publish_failures_total",
				Help: "Index publish failures, labeled by the step that failed.",
			},
			[]string{"stage"},
		)

		resolveResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invite_crawler_resolve_results_total",
				Help: "Intermediary link resolutions, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invite_crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"limiter"},
		)

		cycleSleepSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "invite_crawler_cycle_sleep_seconds",
				Help: "Sleep scheduled after the last cycle before the next one starts.",
			},
		)

		snapshotMirrorFailedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "invite_crawler_snapshot_mirror_failures_total",
				Help: "Catalog snapshot uploads that failed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invite_crawler_http_requests_total",
				Help: "Ops server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invite_crawler_http_request_duration_seconds",
				Help:    "Histogram of ops server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
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

// ObserveCatalogSave counts one save attempt.
func ObserveCatalogSave(result string) {
	Init()
	catalogSavesTotal.WithLabelValues(result).Inc()
}

// SetCatalogEntries records the size of the persisted catalog.
func SetCatalogEntries(n int) {
	Init()
	catalogEntries.Set(float64(n))
}

// ObserveCorruptionDecision counts a continue/abort decision.
func ObserveCorruptionDecision(decision string) {
	Init()
	corruptionDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObservePublishFailure counts an index publish failure at stage.
func ObservePublishFailure(stage string) {
	Init()
	publishFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveResolve counts a resolution of an intermediary link.
func ObserveResolve(rawURL string, result string) {
	Init()
	resolveResultsTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(limiter string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(limiter).Observe(duration.Seconds())
}

// SetCycleSleep records the sleep scheduled before the next cycle.
func SetCycleSleep(d time.Duration) {
	Init()
	cycleSleepSeconds.Set(d.Seconds())
}

// ObserveSnapshotMirrorFailure counts a failed snapshot upload.
func ObserveSnapshotMirrorFailure() {
	Init()
	snapshotMirrorFailedTotal.Inc()
}

// ObserveHTTPRequest records one ops server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
