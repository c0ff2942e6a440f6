// Package metrics exposes Prometheus collectors for the mirror crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Asset outcomes.
const (
	AssetDownloaded = "downloaded"
	AssetCached     = "cached"
	AssetSkipped    = "skipped"
	AssetFailed     = "failed"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_pages_total",
			Help: "Total number of pages handled, labeled by site, fetch mode and status.",
		},
		[]string{"site", "mode", "status"},
	)

	assetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_assets_total",
			Help: "Total number of assets handled, labeled by category and outcome.",
		},
		[]string{"category", "status"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_bytes_total",
			Help: "Total number of bytes written to the mirror, labeled by kind.",
		},
		[]string{"kind"},
	)

	renderFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_render_fallbacks_total",
			Help: "Rendered fetches that failed and fell back to a static fetch.",
		},
	)

	renderPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_render_promotions_total",
			Help: "Static pages promoted to a rendered fetch by the detector.",
		},
	)

	frontierSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_frontier_size",
			Help: "Number of URLs waiting in the crawl frontier.",
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
			Name:    "mirror_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

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

// ObservePage counts a handled page and the bytes of HTML it produced.
func ObservePage(pageURL, mode, status string, htmlBytes int) {
	pagesTotal.WithLabelValues(SanitizeSite(pageURL), mode, status).Inc()
	if htmlBytes > 0 {
		bytesTotal.WithLabelValues("page").Add(float64(htmlBytes))
	}
}

// ObserveAsset counts an asset outcome and the bytes written for it.
func ObserveAsset(category, status string, written int) {
	assetsTotal.WithLabelValues(category, status).Inc()
	if written > 0 {
		bytesTotal.WithLabelValues("asset").Add(float64(written))
	}
}

// ObserveRenderFallback counts a rendered fetch that fell back to static.
func ObserveRenderFallback() {
	renderFallbacksTotal.Inc()
}

// ObserveRenderPromotion counts a static page promoted to a rendered fetch.
func ObserveRenderPromotion() {
	renderPromotionsTotal.Inc()
}

// SetFrontierSize records the current frontier length.
func SetFrontierSize(n int) {
	frontierSize.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
