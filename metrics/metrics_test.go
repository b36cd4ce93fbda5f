package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("test PromCollector", testPromCollector)
	t.Run("test NilCollector", testNilCollector)
}

func testPromCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewPromCollector(registry)

	collector.RecordHit(TierMemory)
	collector.RecordHit(TierMemory)
	collector.RecordMiss(TierDisk)
	collector.RecordFetch(FetchOutcomeSucceeded, 0.2, 1024)

	metricFamilies, err := registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)

	hits := testutil.ToFloat64(collector.(*promCollector).hits.WithLabelValues(TierMemory))
	assert.Equal(t, float64(2), hits)

	misses := testutil.ToFloat64(collector.(*promCollector).misses.WithLabelValues(TierDisk))
	assert.Equal(t, float64(1), misses)

	fetchBytes := testutil.ToFloat64(collector.(*promCollector).fetchBytes.WithLabelValues(FetchOutcomeSucceeded))
	assert.Equal(t, float64(1024), fetchBytes)
}

func testNilCollector(t *testing.T) {
	collector := NewNilCollector()

	// must not panic
	collector.RecordHit(TierMemory)
	collector.RecordMiss(TierDisk)
	collector.RecordFetch(FetchOutcomeFailed, 0, 0)

	assert.NotNil(t, collector)
}
