package driver

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics are cumulative, atomic counters kept per Driver instance,
// plus a protocol-specific metric map. Kept as a distinct addressable
// type (not inline fields on the driver), the same split rolfl-modbus
// uses between its client/server and their *Diagnostics companions.
type Statistics struct {
	Requests         atomic.Int64
	Successes        atomic.Int64
	Failures         atomic.Int64
	BytesIn          atomic.Int64
	BytesOut         atomic.Int64
	lastResponseNs   atomic.Int64

	mu      sync.Mutex
	metrics map[string]int64
}

// NewStatistics returns a zeroed Statistics block.
func NewStatistics() *Statistics {
	return &Statistics{metrics: make(map[string]int64)}
}

// RecordRequest increments the request counter and, on success, the
// success counter; on failure, the failure counter. The last-response-time
// gauge is set to elapsed either way. Byte counts are best-effort (0 when
// unknown to the caller).
func (s *Statistics) RecordRequest(ok bool, bytesIn, bytesOut int, elapsed time.Duration) {
	s.Requests.Add(1)
	if ok {
		s.Successes.Add(1)
	} else {
		s.Failures.Add(1)
	}
	s.BytesIn.Add(int64(bytesIn))
	s.BytesOut.Add(int64(bytesOut))
	s.lastResponseNs.Store(elapsed.Nanoseconds())
}

// LastResponseTime returns the duration of the most recently completed
// request.
func (s *Statistics) LastResponseTime() time.Duration {
	return time.Duration(s.lastResponseNs.Load())
}

// IncrMetric bumps a named protocol-specific counter, e.g. a Modbus
// exception code or an MQTT "decode_error" tally.
func (s *Statistics) IncrMetric(name string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		s.metrics = make(map[string]int64)
	}
	s.metrics[name] += delta
}

// Snapshot returns a point-in-time copy suitable for status reporting.
type Snapshot struct {
	Requests         int64
	Successes        int64
	Failures         int64
	BytesIn          int64
	BytesOut         int64
	LastResponseTime time.Duration
	Metrics          map[string]int64
}

func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics := make(map[string]int64, len(s.metrics))
	for k, v := range s.metrics {
		metrics[k] = v
	}
	return Snapshot{
		Requests:         s.Requests.Load(),
		Successes:        s.Successes.Load(),
		Failures:         s.Failures.Load(),
		BytesIn:          s.BytesIn.Load(),
		BytesOut:         s.BytesOut.Load(),
		LastResponseTime: s.LastResponseTime(),
		Metrics:          metrics,
	}
}

// Reset zeroes every counter, backing ProtocolDriver.ResetStatistics.
func (s *Statistics) Reset() {
	s.Requests.Store(0)
	s.Successes.Store(0)
	s.Failures.Store(0)
	s.BytesIn.Store(0)
	s.BytesOut.Store(0)
	s.lastResponseNs.Store(0)
	s.mu.Lock()
	s.metrics = make(map[string]int64)
	s.mu.Unlock()
}
