package metrics

import (
	"context"

	"codeberg.org/mutker/chargectl/internal/charge"
)

// Collector ships controller snapshots to a metrics backend.
type Collector interface {
	Record(ctx context.Context, snapshot charge.Snapshot) error
	Close() error
}

// gaugeClient is the subset of the DogStatsD client the collector uses.
type gaugeClient interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Flush() error
	Close() error
}
