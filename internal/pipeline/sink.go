// Package pipeline turns raw driver reads into timestamped, quality-
// tagged, deadband-filtered values and fans them out to sinks, per
// spec.md §4.3. Grounded on the shape of the teacher's
// internal/collector.Storage.Handle fan-out (one function receiving a
// value and writing it to zero or more configured sinks), generalized
// from a single float64 write path into the five-step pipeline.
package pipeline

import (
	"context"

	"github.com/pulseone-io/collector/internal/model"
)

// CacheSink upserts the latest TimestampedValue for a point. Always
// called, every cycle, per spec.md §4.3 step 5.
type CacheSink interface {
	PutCurrentValue(ctx context.Context, deviceID string, tv model.TimestampedValue) error
}

// HistorySink appends a TimestampedValue to durable history. Called
// only when the point is log-enabled and either changed or its log
// interval has elapsed, per spec.md §4.3 step 5.
type HistorySink interface {
	AppendHistory(ctx context.Context, deviceID string, tv model.TimestampedValue) error
}
