package metrics

// nilCollector drops all metrics
type nilCollector struct{}

var _ Collector = &nilCollector{}

// NewNilCollector creates a Collector that drops all metrics
func NewNilCollector() Collector {
	return &nilCollector{}
}

// RecordHit does nothing
func (collector *nilCollector) RecordHit(tier string) {
}

// RecordMiss does nothing
func (collector *nilCollector) RecordMiss(tier string) {
}

// RecordFetch does nothing
func (collector *nilCollector) RecordFetch(outcome string, duration float64, bytes int64) {
}
