// Package metrics provides Prometheus metrics collection for the feed.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total number of feed requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// Ingestion metrics
	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_ingestions_total",
			Help: "Total number of package ingestions by source and result",
		},
		[]string{"source", "result"},
	)

	IngestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_ingestion_duration_seconds",
			Help:    "Time to read, hash, store and index one archive",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	IngestedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_ingested_bytes_total",
			Help: "Total bytes of archives ingested",
		},
	)

	// Index metrics
	IndexedPackages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_indexed_packages",
			Help: "Number of distinct package ids in the index",
		},
	)

	IndexedVersions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_indexed_versions",
			Help: "Number of package versions in the index",
		},
	)

	QueryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_query_cache_hits_total",
			Help: "Total number of listing pages served from cache",
		},
	)

	QueryCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_query_cache_misses_total",
			Help: "Total number of listing pages computed from the index",
		},
	)

	FeedEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_enabled",
			Help: "Whether the feed is enabled (1) or disabled (0)",
		},
	)

	// Upstream metrics
	UpstreamFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_upstream_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_upstream_errors_total",
			Help: "Total number of upstream fetch errors by type",
		},
		[]string{"error_type"},
	)

	// Storage metrics
	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_storage_errors_total",
			Help: "Total number of storage errors by operation",
		},
		[]string{"operation"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_published_total",
			Help: "Total number of index events published by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Active requests
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_active_requests",
			Help: "Number of currently active requests",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		IngestionsTotal,
		IngestionDuration,
		IngestedBytes,
		IndexedPackages,
		IndexedVersions,
		QueryCacheHits,
		QueryCacheMisses,
		FeedEnabled,
		UpstreamFetchDuration,
		UpstreamErrors,
		StorageOperationDuration,
		StorageErrors,
		EventsPublished,
		ActiveRequests,
	)
}

// Handler returns an HTTP handler for the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest tracks request metrics with timing.
func RecordRequest(endpoint string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	RequestsTotal.WithLabelValues(endpoint, statusStr).Inc()
	RequestDuration.WithLabelValues(endpoint, statusStr).Observe(duration.Seconds())
}

// RecordIngestion tracks one ingestion attempt. result is "indexed",
// "replaced", "conflict", "invalid" or "error".
func RecordIngestion(source, result string, size int64, duration time.Duration) {
	IngestionsTotal.WithLabelValues(source, result).Inc()
	IngestionDuration.WithLabelValues(source).Observe(duration.Seconds())
	if size > 0 {
		IngestedBytes.Add(float64(size))
	}
}

// UpdateIndexStats sets the index size gauges.
func UpdateIndexStats(packages, versions int) {
	IndexedPackages.Set(float64(packages))
	IndexedVersions.Set(float64(versions))
}

func RecordQueryCache(hit bool) {
	if hit {
		QueryCacheHits.Inc()
		return
	}
	QueryCacheMisses.Inc()
}

func SetFeedEnabled(enabled bool) {
	if enabled {
		FeedEnabled.Set(1)
		return
	}
	FeedEnabled.Set(0)
}

// RecordUpstreamFetch tracks upstream fetch duration.
func RecordUpstreamFetch(duration time.Duration) {
	UpstreamFetchDuration.Observe(duration.Seconds())
}

// RecordUpstreamError increments upstream error counter.
func RecordUpstreamError(errorType string) {
	UpstreamErrors.WithLabelValues(errorType).Inc()
}

// RecordStorageOperation tracks storage operation duration.
func RecordStorageOperation(operation string, duration time.Duration) {
	StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStorageError increments storage error counter.
func RecordStorageError(operation string) {
	StorageErrors.WithLabelValues(operation).Inc()
}

func RecordEvent(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(kind, result).Inc()
}

// IncrementActiveRequests increments the active request counter.
func IncrementActiveRequests() {
	ActiveRequests.Inc()
}

// DecrementActiveRequests decrements the active request counter.
func DecrementActiveRequests() {
	ActiveRequests.Dec()
}
