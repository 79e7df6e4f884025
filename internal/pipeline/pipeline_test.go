package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pulseone-io/collector/internal/model"
)

type fakeCache struct{ puts []model.TimestampedValue }

func (f *fakeCache) PutCurrentValue(ctx context.Context, deviceID string, tv model.TimestampedValue) error {
	f.puts = append(f.puts, tv)
	return nil
}

type fakeHistory struct{ writes []model.TimestampedValue }

func (f *fakeHistory) AppendHistory(ctx context.Context, deviceID string, tv model.TimestampedValue) error {
	f.writes = append(f.writes, tv)
	return nil
}

func numericPoint(id string, deadband float64, logEnabled bool) model.DataPoint {
	return model.DataPoint{
		ID: id, DataType: model.KindFloat64, Enabled: true,
		LogEnabled: logEnabled, LogDeadband: deadband, ScaleFactor: 1,
	}
}

func raw(id string, f float64) model.TimestampedValue {
	now := time.Now()
	return model.TimestampedValue{
		PointID: id, Value: model.DataValue{Kind: model.KindFloat64, Float: f},
		Quality: model.QualityGood, IngressTimestamp: now, SourceTimestamp: now,
	}
}

// TestPipeline_AlwaysWritesCache covers spec.md §4.3 step 5's "always
// write to the cache sink" rule, independent of log_enabled/deadband.
func TestPipeline_AlwaysWritesCache(t *testing.T) {
	cache := &fakeCache{}
	p := New(cache, nil)
	pt := numericPoint("p1", 1.0, false)
	_, err := p.Process(context.Background(), "dev1", []model.DataPoint{pt}, []model.TimestampedValue{raw("p1", 10)})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(cache.puts) != 1 {
		t.Fatalf("expected 1 cache write, got %d", len(cache.puts))
	}
}

// TestPipeline_DeadbandIdempotence covers P3: a change smaller than
// log_deadband does not trigger a history write; a change larger than it
// does.
func TestPipeline_DeadbandIdempotence(t *testing.T) {
	cache := &fakeCache{}
	history := &fakeHistory{}
	p := New(cache, history)
	pt := numericPoint("p1", 2.0, true)

	ctx := context.Background()
	points := []model.DataPoint{pt}

	// First read: uninitialized slot always counts as changed.
	if _, err := p.Process(ctx, "dev1", points, []model.TimestampedValue{raw("p1", 10)}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(history.writes) != 1 {
		t.Fatalf("expected 1 history write on first read, got %d", len(history.writes))
	}

	// Small change (< deadband): no new history write.
	if _, err := p.Process(ctx, "dev1", points, []model.TimestampedValue{raw("p1", 11)}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(history.writes) != 1 {
		t.Fatalf("expected still 1 history write after sub-deadband change, got %d", len(history.writes))
	}

	// Large change (> deadband): new history write.
	if _, err := p.Process(ctx, "dev1", points, []model.TimestampedValue{raw("p1", 20)}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(history.writes) != 2 {
		t.Fatalf("expected 2 history writes after a large change, got %d", len(history.writes))
	}
}

// TestPipeline_RangeCheckDoesNotClip covers step 1: an out-of-range raw
// value is tagged uncertain but its scaled value is not clipped.
func TestPipeline_RangeCheckDoesNotClip(t *testing.T) {
	p := New(&fakeCache{}, nil)
	pt := numericPoint("p1", 0, false)
	pt.HasRange = true
	pt.MinValue, pt.MaxValue = 0, 100

	out, err := p.Process(context.Background(), "dev1", []model.DataPoint{pt}, []model.TimestampedValue{raw("p1", 150)})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out[0].Quality != model.QualityUncertain {
		t.Fatalf("expected quality uncertain for out-of-range value, got %s", out[0].Quality)
	}
	f, _ := out[0].Value.Float64()
	if f != 150 {
		t.Fatalf("expected unclipped value 150, got %v", f)
	}
}

// TestPipeline_ScaleApplied covers step 2: engineering = raw*factor+offset.
func TestPipeline_ScaleApplied(t *testing.T) {
	p := New(&fakeCache{}, nil)
	pt := numericPoint("p1", 0, false)
	pt.ScaleFactor = 0.1
	pt.ScaleOffset = 5

	out, err := p.Process(context.Background(), "dev1", []model.DataPoint{pt}, []model.TimestampedValue{raw("p1", 100)})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	f, _ := out[0].Value.Float64()
	if f != 15 {
		t.Fatalf("expected 100*0.1+5=15, got %v", f)
	}
}

// TestPipeline_LogIntervalWithoutChange covers the OR clause of step 5:
// even without a change, elapsing log_interval_ms alone triggers a
// history write.
func TestPipeline_LogIntervalWithoutChange(t *testing.T) {
	cache := &fakeCache{}
	history := &fakeHistory{}
	p := New(cache, history)
	pt := numericPoint("p1", 100, true) // wide deadband: never "changed"
	pt.LogIntervalMs = 1

	ctx := context.Background()
	points := []model.DataPoint{pt}
	if _, err := p.Process(ctx, "dev1", points, []model.TimestampedValue{raw("p1", 10)}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := p.Process(ctx, "dev1", points, []model.TimestampedValue{raw("p1", 10.01)}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(history.writes) != 2 {
		t.Fatalf("expected log_interval_ms elapsed to force a second history write, got %d writes", len(history.writes))
	}
}
