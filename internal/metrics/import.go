// Package metrics exposes Prometheus instrumentation for the import pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalog_import"

// ImportMetrics records pipeline activity. A nil *ImportMetrics is valid and
// records nothing, so callers never need to guard.
type ImportMetrics struct {
	stageDuration *prometheus.HistogramVec
	assetUploads  *prometheus.CounterVec
	products      *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	activeCommits prometheus.Gauge
}

// NewImportMetrics registers the import metrics on the provided registerer.
func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	if reg == nil {
		return &ImportMetrics{}
	}
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of import pipeline stages in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
	assetUploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_uploads_total",
		Help:      "Image uploads to the asset host by result.",
	}, []string{"result"})
	products := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "products_total",
		Help:      "Products committed by outcome.",
	}, []string{"result"})
	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"scope"})
	activeCommits := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_commits",
		Help:      "Commits currently running.",
	})
	reg.MustRegister(stageDuration, assetUploads, products, rateLimited, activeCommits)
	return &ImportMetrics{
		stageDuration: stageDuration,
		assetUploads:  assetUploads,
		products:      products,
		rateLimited:   rateLimited,
		activeCommits: activeCommits,
	}
}

// ObserveStage records how long a pipeline stage took.
func (m *ImportMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(d.Seconds())
}

// IncAssetUpload counts one upload attempt.
func (m *ImportMetrics) IncAssetUpload(ok bool) {
	if m == nil || m.assetUploads == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.assetUploads.WithLabelValues(result).Inc()
}

// IncProduct counts one product outcome: created, updated or failed.
func (m *ImportMetrics) IncProduct(result string) {
	if m == nil || m.products == nil {
		return
	}
	m.products.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncRateLimited counts a rejected request.
func (m *ImportMetrics) IncRateLimited(scope string) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.WithLabelValues(normalizeLabel(scope)).Inc()
}

// CommitStarted marks a commit as running.
func (m *ImportMetrics) CommitStarted() {
	if m == nil || m.activeCommits == nil {
		return
	}
	m.activeCommits.Inc()
}

// CommitFinished marks a running commit as done.
func (m *ImportMetrics) CommitFinished() {
	if m == nil || m.activeCommits == nil {
		return
	}
	m.activeCommits.Dec()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
