package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promCollector is a metrics collector that stores metrics in Prometheus
type promCollector struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchBytes    *prometheus.CounterVec
}

var _ Collector = &promCollector{}

// NewPromCollector creates a Collector registered with the given Prometheus registerer
func NewPromCollector(registerer prometheus.Registerer) Collector {
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagecache_hits_total",
		Help: "Number of cache hits per tier.",
	}, []string{"tier"})
	registerer.MustRegister(hits)

	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagecache_misses_total",
		Help: "Number of cache misses per tier.",
	}, []string{"tier"})
	registerer.MustRegister(misses)

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "imagecache_fetch_duration_seconds",
		Help: "Duration of remote fetches in seconds.",
	}, []string{"outcome"})
	registerer.MustRegister(fetchDuration)

	fetchBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagecache_fetch_bytes_total",
		Help: "Number of bytes fetched from the remote source.",
	}, []string{"outcome"})
	registerer.MustRegister(fetchBytes)

	return &promCollector{
		hits:          hits,
		misses:        misses,
		fetchDuration: fetchDuration,
		fetchBytes:    fetchBytes,
	}
}

// RecordHit records a cache hit on the given tier
func (collector *promCollector) RecordHit(tier string) {
	collector.hits.WithLabelValues(tier).Inc()
}

// RecordMiss records a cache miss on the given tier
func (collector *promCollector) RecordMiss(tier string) {
	collector.misses.WithLabelValues(tier).Inc()
}

// RecordFetch records the outcome, duration and payload size of a remote fetch
func (collector *promCollector) RecordFetch(outcome string, duration float64, bytes int64) {
	collector.fetchDuration.WithLabelValues(outcome).Observe(duration)
	collector.fetchBytes.WithLabelValues(outcome).Add(float64(bytes))
}
