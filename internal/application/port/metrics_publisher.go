package port

import (
	"context"
	"time"
)

// MetricDatum is a single observation emitted by the analysis pipeline.
type MetricDatum struct {
	Name       string
	Value      float64
	Unit       string // "Count", "Milliseconds", "None"
	Dimensions map[string]string
	Timestamp  time.Time
}

// MetricsPublisher publishes analysis metrics to an external observability platform.
type MetricsPublisher interface {
	// PublishBatch buffers multiple data points.
	PublishBatch(ctx context.Context, data []MetricDatum) error

	// Flush forces immediate publication of buffered data points.
	Flush(ctx context.Context) error
}
