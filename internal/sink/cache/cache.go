// Package cache implements the key/value cache sink of spec.md §6:
// per-point records keyed `device:<id>:point:<id>` plus a per-worker
// status record keyed `worker:<device_id>:status`. Generalizes the
// teacher's internal/utils.ValueCache (a mutex-guarded, TTL-bearing
// map[string]float64) from a single scalar value into the full JSON
// record the spec names, lock-striped per spec.md §5's "internal mutex
// per key-shard" (the same striping internal/pipeline.LastValueTable
// uses for the same concurrency reason: many devices writing distinct
// keys must not serialize against each other).
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pulseone-io/collector/internal/model"
)

const shardCount = 32

// record is the on-cache JSON shape for one point, per spec.md §6.
type record struct {
	Value           model.DataValue `json:"value"`
	Quality         model.Quality   `json:"quality"`
	ValueTimestamp  time.Time       `json:"value_timestamp"`
	Source          string          `json:"source"`
	ReadCount       uint64          `json:"read_count"`
}

// statusRecord is the on-cache JSON shape for worker:<device_id>:status.
type statusRecord struct {
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type shard struct {
	mu   sync.Mutex
	data map[string][]byte
}

// Cache is the in-process key/value cache sink. It implements
// pipeline.CacheSink.
type Cache struct {
	shards   [shardCount]*shard
	counters sync.Map // point id -> *uint64 read count
}

// New returns an empty Cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string][]byte)}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[fnv32(key)%shardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func pointKey(deviceID, pointID string) string {
	return "device:" + deviceID + ":point:" + pointID
}

func statusKey(deviceID string) string {
	return "worker:" + deviceID + ":status"
}

// PutCurrentValue upserts the per-point cache record, implementing
// pipeline.CacheSink, per spec.md §4.3 step 5 ("always write to the
// cache sink").
func (c *Cache) PutCurrentValue(ctx context.Context, deviceID string, tv model.TimestampedValue) error {
	count := c.incrReadCount(tv.PointID)
	rec := record{
		Value: tv.Value, Quality: tv.Quality, ValueTimestamp: tv.SourceTimestamp,
		Source: deviceID, ReadCount: count,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := pointKey(deviceID, tv.PointID)
	s := c.shardFor(key)
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

func (c *Cache) incrReadCount(pointID string) uint64 {
	v, _ := c.counters.LoadOrStore(pointID, new(uint64))
	p := v.(*uint64)
	*p++
	return *p
}

// GetCurrentValue returns the cached record for one point. Within this
// repository only the tests call it; the Repository's FindCurrentValues
// reads the current_values table instead.
func (c *Cache) GetCurrentValue(deviceID, pointID string) (model.CurrentValue, bool) {
	key := pointKey(deviceID, pointID)
	s := c.shardFor(key)
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return model.CurrentValue{}, false
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.CurrentValue{}, false
	}
	return model.CurrentValue{
		PointID: pointID,
		Value: model.TimestampedValue{
			PointID: pointID, Value: rec.Value, Quality: rec.Quality,
			SourceTimestamp: rec.ValueTimestamp, IngressTimestamp: rec.ValueTimestamp,
		},
		ReadCount: rec.ReadCount,
	}, true
}

// PutWorkerStatus publishes `worker:<device_id>:status`, used by the
// Manager for restart_worker/reload_worker's "restarting" then
// "initialized" transition (spec.md §4.5, seed scenario 6).
func (c *Cache) PutWorkerStatus(deviceID, status string, metadata map[string]any) error {
	rec := statusRecord{Status: status, Metadata: metadata, Timestamp: time.Now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := statusKey(deviceID)
	s := c.shardFor(key)
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

// GetWorkerStatus returns the last published status for a device.
func (c *Cache) GetWorkerStatus(deviceID string) (status string, ok bool) {
	key := statusKey(deviceID)
	s := c.shardFor(key)
	s.mu.Lock()
	raw, present := s.data[key]
	s.mu.Unlock()
	if !present {
		return "", false
	}
	var rec statusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", false
	}
	return rec.Status, true
}
