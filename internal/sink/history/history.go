// Package history implements the append-only history sink of
// SPEC_FULL.md §4.7: a batched, asynchronous JSONL writer with its own
// background flush goroutine, patterned on the teacher's
// internal/collector.Storage (a buffered channel drained by one
// goroutine that fans a PointValue out to JSONL/CSV/DB writers).
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pulseone-io/collector/internal/model"
)

// record is the on-disk JSONL shape for one historized reading.
type record struct {
	DeviceID  string          `json:"device_id"`
	PointID   string          `json:"point_id"`
	Value     model.DataValue `json:"value"`
	Quality   model.Quality   `json:"quality"`
	Timestamp time.Time       `json:"timestamp"`
}

// entry pairs a device id with the value to append; this is the
// channel payload, mirroring the teacher's PointValue queue item.
type entry struct {
	deviceID string
	tv       model.TimestampedValue
}

// Sink is an append-only, asynchronous history writer. It implements
// pipeline.HistorySink.
type Sink struct {
	q      chan entry
	wg     sync.WaitGroup
	closed chan struct{}

	file   *os.File
	writer *bufio.Writer
}

// Open creates (or appends to) path and starts the background drain
// goroutine, grounded on internal/collector.Storage's NewStorage.
func Open(path string, queueDepth int) (*Sink, error) {
	if queueDepth <= 0 {
		queueDepth = 1000
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history output: %w", err)
	}

	s := &Sink{
		q:      make(chan entry, queueDepth),
		closed: make(chan struct{}),
		file:   f,
		writer: bufio.NewWriterSize(f, 64*1024),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.q {
			_ = s.writeRecord(e)
		}
		s.writer.Flush()
		close(s.closed)
	}()

	return s, nil
}

func (s *Sink) writeRecord(e entry) error {
	rec := record{DeviceID: e.deviceID, PointID: e.tv.PointID, Value: e.tv.Value, Quality: e.tv.Quality, Timestamp: e.tv.SourceTimestamp}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.writer.Write(b); err != nil {
		return err
	}
	_, err = s.writer.WriteString("\n")
	return err
}

// AppendHistory enqueues one reading for the background writer,
// implementing pipeline.HistorySink. Best-effort with a bounded
// blocking fallback, matching the teacher's Storage.Handle.
func (s *Sink) AppendHistory(ctx context.Context, deviceID string, tv model.TimestampedValue) error {
	e := entry{deviceID: deviceID, tv: tv}
	select {
	case s.q <- e:
		return nil
	default:
	}
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case s.q <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("history queue full: dropping %s/%s", deviceID, tv.PointID)
	}
}

// Close stops the background writer and flushes remaining output.
func (s *Sink) Close() error {
	close(s.q)
	<-s.closed
	return s.file.Close()
}
