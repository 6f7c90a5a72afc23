package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	chatConnections    prometheus.Gauge
	chatMutationsTotal *prometheus.CounterVec
	bucketCacheLookups *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors for the chat core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of live websocket connections on this node.",
		})

		chatMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_mutations_total",
			Help: "Chat mutations processed, by kind and outcome.",
		}, []string{"kind", "outcome"})

		bucketCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_bucket_cache_lookups_total",
			Help: "Bucket cache lookups, by result.",
		}, []string{"result"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(chatConnections, chatMutationsTotal, bucketCacheLookups, httpRequestsTotal, httpLatencySeconds)
	})
}

// ChatConnections exposes the live connection gauge.
func ChatConnections() prometheus.Gauge {
	RegisterMetrics()
	return chatConnections
}

// ChatMutations exposes the mutation counter.
func ChatMutations() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMutationsTotal
}

// BucketCacheLookups exposes the bucket cache lookup counter.
func BucketCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return bucketCacheLookups
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}
