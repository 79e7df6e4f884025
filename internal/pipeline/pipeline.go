package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/pulseone-io/collector/internal/model"
)

// Pipeline runs the five-step raw-to-engineering conversion of
// spec.md §4.3 and fans the result out to a cache sink (always) and a
// history sink (conditionally).
type Pipeline struct {
	table   *LastValueTable
	cache   CacheSink
	history HistorySink
}

// New builds a Pipeline against the given sinks. A nil history sink is
// valid: the log_enabled gate is still evaluated (and the last-log time
// still advanced), but the history append is skipped, so the device
// never produces history writes.
func New(cache CacheSink, history HistorySink) *Pipeline {
	return &Pipeline{table: NewLastValueTable(), cache: cache, history: history}
}

// Process applies the pipeline to one Driver read batch. raws and points
// must have the same length and order, matching ProtocolDriver.ReadValues'
// contract. Returns the processed values (same order), and the first sink
// error encountered, if any — processing continues for remaining points
// even after a sink error so one failing write never blocks the batch.
func (p *Pipeline) Process(ctx context.Context, deviceID string, points []model.DataPoint, raws []model.TimestampedValue) ([]model.TimestampedValue, error) {
	out := make([]model.TimestampedValue, len(raws))
	var firstErr error
	for i, raw := range raws {
		pt := points[i]
		tv := p.step1RangeCheck(pt, raw)
		tv = p.step2Scale(pt, tv)

		shard, entry := p.table.lockedEntry(pt.ID)
		changed := p.step3ChangeDetection(pt, entry, tv)
		tv.Changed = changed
		p.step4QualityTimestamp(entry, &tv)

		now := tv.IngressTimestamp
		if now.IsZero() {
			now = time.Now()
		}
		shouldLogHistory := pt.LogEnabled && (changed || p.intervalElapsed(pt, entry, now))
		entry.value = tv
		entry.initialized = true
		if shouldLogHistory {
			entry.lastLogTime = now
		}
		shard.mu.Unlock()

		out[i] = tv

		if p.cache != nil {
			if err := p.cache.PutCurrentValue(ctx, deviceID, tv); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if shouldLogHistory && p.history != nil {
			if err := p.history.AppendHistory(ctx, deviceID, tv); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return out, firstErr
}

// step1RangeCheck tags quality=uncertain when a numeric raw value falls
// outside [min,max]; the value itself is never clipped, per spec.md
// §4.3 step 1.
func (p *Pipeline) step1RangeCheck(pt model.DataPoint, tv model.TimestampedValue) model.TimestampedValue {
	if !tv.Quality.IsGood() || !pt.HasRange || !pt.DataType.IsNumeric() {
		return tv
	}
	f, ok := tv.Value.Float64()
	if !ok {
		return tv
	}
	if f < pt.MinValue || f > pt.MaxValue {
		tv.Quality = model.QualityUncertain
	}
	return tv
}

// step2Scale applies engineering = raw*factor + offset to every integer
// and float type; strings and bytes pass through unchanged, per spec.md
// §4.3 step 2.
func (p *Pipeline) step2Scale(pt model.DataPoint, tv model.TimestampedValue) model.TimestampedValue {
	if !pt.DataType.IsNumeric() {
		return tv
	}
	f, ok := tv.Value.Float64()
	if !ok {
		return tv
	}
	factor := pt.ScaleFactor
	if factor == 0 {
		factor = 1
	}
	scaled := f*factor + pt.ScaleOffset
	tv.Value = model.DataValue{Kind: model.KindFloat64, Float: scaled}
	return tv
}

// step3ChangeDetection compares against the DataPoint's last known value:
// |new-old| > log_deadband for numerics, exact inequality otherwise. An
// uninitialized slot is always "changed", per spec.md §4.3 step 3.
func (p *Pipeline) step3ChangeDetection(pt model.DataPoint, entry *lastValueEntry, tv model.TimestampedValue) bool {
	if !entry.initialized {
		return true
	}
	prev := entry.value.Value
	if pt.DataType.IsNumeric() {
		newF, _ := tv.Value.Float64()
		oldF, _ := prev.Float64()
		return math.Abs(newF-oldF) > pt.LogDeadband
	}
	return !tv.Value.Equal(prev)
}

// step4QualityTimestamp stamps QualityTimestamp only when quality
// transitions from the previous reading, per spec.md §4.3 step 4.
func (p *Pipeline) step4QualityTimestamp(entry *lastValueEntry, tv *model.TimestampedValue) {
	if !entry.initialized || entry.value.Quality != tv.Quality {
		tv.QualityTimestamp = tv.IngressTimestamp
	} else {
		tv.QualityTimestamp = entry.value.QualityTimestamp
	}
}

func (p *Pipeline) intervalElapsed(pt model.DataPoint, entry *lastValueEntry, now time.Time) bool {
	if pt.LogIntervalMs <= 0 {
		return false
	}
	if entry.lastLogTime.IsZero() {
		return true
	}
	return now.Sub(entry.lastLogTime) >= time.Duration(pt.LogIntervalMs)*time.Millisecond
}
