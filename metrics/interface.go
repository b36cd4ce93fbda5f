// Package metrics collects cache activity metrics.
package metrics

// Cache tier labels
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Fetch outcome labels
const (
	FetchOutcomeSucceeded = "succeeded"
	FetchOutcomeFailed    = "failed"
	FetchOutcomeBusy      = "busy"
)

// Collector defines an interface to collect cache metrics
type Collector interface {
	// RecordHit records a cache hit on the given tier
	RecordHit(tier string)

	// RecordMiss records a cache miss on the given tier
	RecordMiss(tier string)

	// RecordFetch records the outcome, duration and payload size of a remote fetch
	RecordFetch(outcome string, duration float64, bytes int64)
}
