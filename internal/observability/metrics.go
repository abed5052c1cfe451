// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Conversion metrics
	ConversionLookups   *prometheus.CounterVec
	ConversionNoPath    prometheus.Counter
	ConversionDuration  prometheus.Histogram
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	CacheFlushes        prometheus.Counter
	CacheEntries        prometheus.Gauge

	// Provider metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	GranularityFills *prometheus.CounterVec

	// Graph metrics
	SnapshotBuilds        *prometheus.CounterVec
	SnapshotBuildDuration *prometheus.HistogramVec
	GraphVertices         *prometheus.GaugeVec

	// Manifest metrics
	ManifestBuildDuration prometheus.Histogram
	ManifestAssets        prometheus.Gauge
	ManifestExchanges     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "crypto_price_lab"
	}

	return &Metrics{
		// Conversion metrics
		ConversionLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "converter",
			Name:      "lookups_total",
			Help:      "Total number of conversion rate lookups by exchange",
		}, []string{"exchange"}),
		ConversionNoPath: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "converter",
			Name:      "no_path_total",
			Help:      "Total number of lookups with no path between assets",
		}),
		ConversionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "converter",
			Name:      "lookup_duration_seconds",
			Help:      "Conversion lookup duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of price cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of price cache misses",
		}),
		CacheFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Total number of price cache flushes to storage",
		}),
		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of in-memory price cache entries",
		}),

		// Provider metrics
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of price provider calls by exchange",
		}, []string{"exchange"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total number of price provider errors by exchange",
		}, []string{"exchange"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Price provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"exchange"}),
		GranularityFills: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "granularity_fills_total",
			Help:      "Total number of bars served by granularity",
		}, []string{"granularity"}),

		// Graph metrics
		SnapshotBuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "snapshot_builds_total",
			Help:      "Total number of graph snapshots built by exchange",
		}, []string{"exchange"}),
		SnapshotBuildDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "snapshot_build_duration_seconds",
			Help:      "Graph snapshot build duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"exchange"}),
		GraphVertices: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "vertices",
			Help:      "Number of vertices in the latest graph snapshot",
		}, []string{"exchange"}),

		// Manifest metrics
		ManifestBuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "build_duration_seconds",
			Help:      "Transaction manifest build duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ManifestAssets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "assets",
			Help:      "Number of distinct assets in the manifest",
		}),
		ManifestExchanges: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "exchanges",
			Help:      "Number of distinct exchanges in the manifest",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordLookup increments the conversion lookup counter for an exchange.
func RecordLookup(exchange string) {
	DefaultMetrics.ConversionLookups.WithLabelValues(exchange).Inc()
}

// RecordNoPath increments the no-path counter.
func RecordNoPath() {
	DefaultMetrics.ConversionNoPath.Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordCacheFlush records a flush and the resulting cache size.
func RecordCacheFlush(entries int) {
	DefaultMetrics.CacheFlushes.Inc()
	DefaultMetrics.CacheEntries.Set(float64(entries))
}

// RecordProviderCall records one provider call and its outcome.
func RecordProviderCall(exchange string, seconds float64, err error) {
	DefaultMetrics.ProviderCalls.WithLabelValues(exchange).Inc()
	DefaultMetrics.ProviderLatency.WithLabelValues(exchange).Observe(seconds)
	if err != nil {
		DefaultMetrics.ProviderErrors.WithLabelValues(exchange).Inc()
	}
}

// RecordGranularityFill records which granularity finally served a bar.
func RecordGranularityFill(granularity string) {
	DefaultMetrics.GranularityFills.WithLabelValues(granularity).Inc()
}

// RecordSnapshotBuild records a graph snapshot build.
func RecordSnapshotBuild(exchange string, vertices int, durationSeconds float64) {
	DefaultMetrics.SnapshotBuilds.WithLabelValues(exchange).Inc()
	DefaultMetrics.SnapshotBuildDuration.WithLabelValues(exchange).Observe(durationSeconds)
	DefaultMetrics.GraphVertices.WithLabelValues(exchange).Set(float64(vertices))
}

// RecordManifestBuild records manifest construction stats.
func RecordManifestBuild(assets, exchanges int, durationSeconds float64) {
	DefaultMetrics.ManifestBuildDuration.Observe(durationSeconds)
	DefaultMetrics.ManifestAssets.Set(float64(assets))
	DefaultMetrics.ManifestExchanges.Set(float64(exchanges))
}
