// Package manager implements the Worker Manager of spec.md §4.5: a
// registry of live Workers keyed by device id, plus cumulative
// started/stopped/error counters. Generalizes the teacher's
// internal/collector.Manager.Run (a per-device goroutine fan-out
// behind a semaphore) into a registry holding the Workers themselves
// rather than spawning-and-forgetting them, since spec.md §4.5 needs
// StartWorker/StopWorker/RestartWorker as addressable operations, not
// a run-to-completion fan-out.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulseone-io/collector/internal/factory"
	"github.com/pulseone-io/collector/internal/worker"
)

// atomicCounter is a small wrapper over atomic.Int64 for the Manager's
// cumulative started/stopped/errors counters (spec.md §4.5).
type atomicCounter struct{ v atomic.Int64 }

func (c *atomicCounter) add(n int64) { c.v.Add(n) }
func (c *atomicCounter) value() int64 { return c.v.Load() }

// cacheStatusPublisher is the subset of sink/cache.Cache the Manager
// needs for restart/reload status publication, kept as a narrow
// interface so tests can substitute a fake.
type cacheStatusPublisher interface {
	PutWorkerStatus(deviceID, status string, metadata map[string]any) error
}

// Manager is the Worker registry of spec.md §4.5. The teacher's
// single mutex held only for the registration loop is kept as the
// Manager's locking discipline (spec.md §5: "single mutex held only
// for map ops").
type Manager struct {
	factory *factory.Factory
	cache   cacheStatusPublisher

	mu      sync.Mutex
	workers map[string]*worker.Worker

	started atomicCounter
	stopped atomicCounter
	errors  atomicCounter

	stopDeadline time.Duration
}

// New builds a Manager. stopDeadline is the timeout of the context
// StopWorker passes to Worker.Stop (spec.md §4.5, "5-10s deadline");
// 0 defaults to 7s. Worker.Stop uses that context only for the driver's
// Disconnect: its wait for the poll and write tasks has no bound, and a
// Worker whose task does not exit is not force-dropped.
func New(f *factory.Factory, cache cacheStatusPublisher, stopDeadline time.Duration) *Manager {
	if stopDeadline <= 0 {
		stopDeadline = 7 * time.Second
	}
	return &Manager{factory: f, cache: cache, workers: make(map[string]*worker.Worker), stopDeadline: stopDeadline}
}

// StartWorker implements spec.md §4.5's start_worker: absent ⇒ build
// via the Factory and register; present-and-stopped ⇒ restart in
// place; present-and-running ⇒ success no-op. A failed initial connect
// does not un-register the Worker — only StopWorker removes entries.
func (m *Manager) StartWorker(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	w, present := m.workers[deviceID]
	m.mu.Unlock()

	if present {
		if w.State() == worker.StateStopped {
			w.Start(ctx)
			m.started.add(1)
			m.publishInitialized(deviceID)
			return nil
		}
		return nil
	}

	w, err := m.factory.CreateWorker(ctx, deviceID)
	if err != nil {
		m.errors.add(1)
		return err
	}
	m.mu.Lock()
	m.workers[deviceID] = w
	m.mu.Unlock()

	w.Start(ctx)
	m.started.add(1)
	m.publishInitialized(deviceID)
	return nil
}

// publishInitialized records the "initialized" status transition a
// freshly-(re)started Worker reaches, per spec.md §4.5. Both the
// single-device path (StartWorker, and so RestartWorker) and the bulk
// path (StartAllActiveWorkers) must publish it so cache readers see
// the same "restarting" → "initialized" sequence regardless of which
// path a restart took.
func (m *Manager) publishInitialized(deviceID string) {
	if m.cache != nil {
		_ = m.cache.PutWorkerStatus(deviceID, "initialized", nil)
	}
}

// StopWorker calls Stop with the Manager's stop deadline and
// unregisters the entry, per spec.md §4.5's stop_worker — the only
// operation that removes a registry entry.
func (m *Manager) StopWorker(deviceID string) error {
	m.mu.Lock()
	w, present := m.workers[deviceID]
	if present {
		delete(m.workers, deviceID)
	}
	m.mu.Unlock()
	if !present {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.stopDeadline)
	defer cancel()
	err := w.Stop(ctx)
	m.stopped.add(1)
	return err
}

// RestartWorker stops, tears down, and re-creates the Worker from a
// fresh Factory call, ensuring fresh DataPoint/Settings load. Before
// the new Worker starts, it publishes {status: "restarting",
// restart_initiated_at: now} to the cache, per spec.md §4.5.
func (m *Manager) RestartWorker(ctx context.Context, deviceID string) error {
	if m.cache != nil {
		_ = m.cache.PutWorkerStatus(deviceID, "restarting", map[string]any{"restart_initiated_at": nowRFC3339()})
	}
	if err := m.StopWorker(deviceID); err != nil {
		return err
	}
	return m.StartWorker(ctx, deviceID)
}

// ReloadWorker is a semantic alias for RestartWorker that additionally
// asks the Factory to re-read any cached protocol schemas before
// rebuilding the Worker, per spec.md §4.5.
func (m *Manager) ReloadWorker(ctx context.Context, deviceID string) error {
	if err := m.factory.ReloadRegistry(); err != nil {
		return err
	}
	return m.RestartWorker(ctx, deviceID)
}

// StartAllActiveWorkers iterates every enabled device with a 100ms
// stagger between starts, then performs a bulk cache-initialization
// pass, per spec.md §4.5.
func (m *Manager) StartAllActiveWorkers(ctx context.Context) []error {
	workers, errs := m.factory.CreateAllActiveWorkers(ctx)
	for id, w := range workers {
		m.mu.Lock()
		m.workers[id] = w
		m.mu.Unlock()
	}

	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	for i, id := range ids {
		if i > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		workers[id].Start(ctx)
		m.started.add(1)
	}

	for _, id := range ids {
		m.publishInitialized(id)
	}
	return errs
}

// Status is one entry of the bulk status snapshot spec.md §4.5 names.
type Status struct {
	DeviceID          string
	State             worker.State
	Connected         bool
	HumanDescription  string
}

// AggregateCounters is the Manager's cumulative counters.
type AggregateCounters struct {
	Started int64
	Stopped int64
	Errors  int64
}

// Snapshot returns per-worker status plus the aggregate counters, per
// spec.md §4.5's bulk status snapshot. Manager aggregates are computed
// on read, per spec.md §5 ("Manager aggregates are computed on read,
// not maintained incrementally") for the per-worker slice; the
// started/stopped/error counters themselves are maintained
// incrementally since they persist across Worker registration and
// removal.
func (m *Manager) Snapshot() ([]Status, AggregateCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.workers))
	for id, w := range m.workers {
		state := w.State()
		out = append(out, Status{
			DeviceID: id, State: state, Connected: w.Connected(),
			HumanDescription: fmt.Sprintf("device %s is %s", id, state),
		})
	}
	return out, AggregateCounters{Started: m.started.value(), Stopped: m.stopped.value(), Errors: m.errors.value()}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
