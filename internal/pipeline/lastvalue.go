package pipeline

import (
	"sync"
	"time"

	"github.com/pulseone-io/collector/internal/model"
)

// shardCount matches the teacher's internal/utils.ValueCache shape (one
// mutex guarding one map) fanned out into stripes so a busy point on one
// device doesn't serialize against an unrelated point on another,
// per spec.md §5's "internal mutex per key-shard".
const shardCount = 32

type lastValueEntry struct {
	value       model.TimestampedValue
	initialized bool
	lastLogTime time.Time
}

type shard struct {
	mu   sync.Mutex
	data map[string]*lastValueEntry
}

// LastValueTable is the pipeline's per-point memory of the most recently
// observed value, used for change detection and log-interval timing. It
// is the mutable-by-reference "last-value row" spec.md §4.3 describes the
// pipeline taking by reference.
type LastValueTable struct {
	shards [shardCount]*shard
}

// NewLastValueTable returns an empty table.
func NewLastValueTable() *LastValueTable {
	t := &LastValueTable{}
	for i := range t.shards {
		t.shards[i] = &shard{data: make(map[string]*lastValueEntry)}
	}
	return t
}

func (t *LastValueTable) shardFor(pointID string) *shard {
	h := fnv32(pointID)
	return t.shards[h%shardCount]
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

// lockedEntry returns the entry for pointID, creating an uninitialized one
// if absent, with the returned shard's lock already held. The caller does
// its read-modify-write and then unlocks the shard (see Pipeline.Process).
func (t *LastValueTable) lockedEntry(pointID string) (*shard, *lastValueEntry) {
	s := t.shardFor(pointID)
	s.mu.Lock()
	e, ok := s.data[pointID]
	if !ok {
		e = &lastValueEntry{}
		s.data[pointID] = e
	}
	return s, e
}
