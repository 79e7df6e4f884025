package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
	"github.com/pulseone-io/collector/internal/pipeline"
)

// fakeDriver is a scripted driver.ProtocolDriver for exercising the
// Worker state machine without real I/O, the same style of scripted
// double used throughout the corpus's own unit tests.
type fakeDriver struct {
	mu          sync.Mutex
	connectErr  error
	connectN    atomic.Int32
	connected   bool
	readValues  func(points []model.DataPoint) ([]model.TimestampedValue, error)
	writeCalls  atomic.Int32
	lastWrite   model.DataValue
}

func (f *fakeDriver) Initialize(cfg model.DriverConfig) error { return nil }
func (f *fakeDriver) Connect(ctx context.Context) error {
	f.connectN.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}
func (f *fakeDriver) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}
func (f *fakeDriver) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeDriver) ReadValues(ctx context.Context, points []model.DataPoint) ([]model.TimestampedValue, error) {
	if f.readValues != nil {
		return f.readValues(points)
	}
	now := time.Now()
	out := make([]model.TimestampedValue, len(points))
	for i, p := range points {
		out[i] = model.TimestampedValue{PointID: p.ID, Quality: model.QualityGood, SourceTimestamp: now, IngressTimestamp: now}
	}
	return out, nil
}
func (f *fakeDriver) WriteValue(ctx context.Context, point model.DataPoint, value model.DataValue) error {
	f.writeCalls.Add(1)
	f.mu.Lock()
	f.lastWrite = value
	f.mu.Unlock()
	return nil
}
func (f *fakeDriver) ProtocolType() model.ProtocolTag { return model.ProtocolModbusTCP }
func (f *fakeDriver) Status() drv.Status              { return drv.StatusConnected }
func (f *fakeDriver) LastError() error                { return nil }
func (f *fakeDriver) Statistics() drv.Snapshot         { return drv.Snapshot{} }
func (f *fakeDriver) ResetStatistics()                 {}

type noopCache struct{ n atomic.Int32 }

func (c *noopCache) PutCurrentValue(ctx context.Context, deviceID string, tv model.TimestampedValue) error {
	c.n.Add(1)
	return nil
}

func testSettings() model.DeviceSettings {
	return model.DeviceSettings{
		DeviceID: "dev1", ConnectTimeoutMs: 1000, ReadTimeoutMs: 1000,
		RetryCount: 3, RetryIntervalMs: 5, BackoffTimeMs: 20, PollingIntervalMs: 10,
	}
}

func testPoints() []model.DataPoint {
	return []model.DataPoint{{ID: "p1", Enabled: true, DataType: model.KindFloat64, Writable: true}}
}

// TestWorker_StartSucceedsAndRuns covers the happy-path Start: connect
// succeeds, the Future resolves nil, and the Worker reaches RUNNING.
func TestWorker_StartSucceedsAndRuns(t *testing.T) {
	fd := &fakeDriver{}
	cache := &noopCache{}
	pl := pipeline.New(cache, nil)
	w := New("dev1", fd, testPoints(), testSettings(), pl)

	f := w.Start(context.Background())
	if err := f.Wait(); err != nil {
		t.Fatalf("Start future: %v", err)
	}
	if w.State() != StateRunning {
		t.Fatalf("expected RUNNING, got %s", w.State())
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.State() != StateStopped {
		t.Fatalf("expected STOPPED after Stop, got %s", w.State())
	}
}

// TestWorker_StartFailureStaysAlive covers spec.md §4.2's load-bearing
// asymmetry: a failed first connect still yields a live Worker parked in
// RECONNECTING, not a dead one.
func TestWorker_StartFailureStaysAlive(t *testing.T) {
	fd := &fakeDriver{connectErr: drv.New(drv.CodeConnectionFailed, "test", nil)}
	pl := pipeline.New(&noopCache{}, nil)
	settings := testSettings()
	settings.RetryCount = 1 // exhaust quickly so the test doesn't hang
	w := New("dev1", fd, testPoints(), settings, pl)

	f := w.Start(context.Background())
	if err := f.Wait(); err == nil {
		t.Fatalf("expected Start future to carry the connect error")
	}

	deadline := time.After(2 * time.Second)
	for w.State() != StateMaxRetriesExceeded {
		select {
		case <-deadline:
			t.Fatalf("worker never reached MAX_RETRIES_EXCEEDED, stuck at %s", w.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	_ = w.Stop(context.Background())
}

// TestWorker_WriteRejectedInMaintenance covers the write-queue access
// rule: MAINTENANCE rejects writes with ACCESS_DENIED.
func TestWorker_WriteRejectedInMaintenance(t *testing.T) {
	fd := &fakeDriver{}
	pl := pipeline.New(&noopCache{}, nil)
	w := New("dev1", fd, testPoints(), testSettings(), pl)
	w.Start(context.Background()).Wait()
	defer w.Stop(context.Background())

	if err := w.SetOperatorState(StateMaintenance); err != nil {
		t.Fatalf("SetOperatorState: %v", err)
	}
	err := w.WriteDataPoint(testPoints()[0], model.DataValue{Kind: model.KindFloat64, Float: 1}).Wait()
	de, ok := err.(*drv.Error)
	if !ok || de.Code != drv.CodeAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got %v", err)
	}
	if fd.writeCalls.Load() != 0 {
		t.Fatalf("driver should not have been called in MAINTENANCE")
	}
}

// TestWorker_SimulationWriteDoesNotTouchDriver covers SIMULATION's rule:
// writes succeed without reaching the driver.
func TestWorker_SimulationWriteDoesNotTouchDriver(t *testing.T) {
	fd := &fakeDriver{}
	pl := pipeline.New(&noopCache{}, nil)
	w := New("dev1", fd, testPoints(), testSettings(), pl)
	w.Start(context.Background()).Wait()
	defer w.Stop(context.Background())

	if err := w.SetOperatorState(StateSimulation); err != nil {
		t.Fatalf("SetOperatorState: %v", err)
	}
	if err := w.WriteDataPoint(testPoints()[0], model.DataValue{Kind: model.KindFloat64, Float: 42}).Wait(); err != nil {
		t.Fatalf("simulated write: %v", err)
	}
	if fd.writeCalls.Load() != 0 {
		t.Fatalf("driver should not be called for a simulated write, got %d calls", fd.writeCalls.Load())
	}
}

// TestWorker_StopStopsPolling covers P6: after Stop resolves, no further
// reads occur.
func TestWorker_StopStopsPolling(t *testing.T) {
	var reads atomic.Int32
	fd := &fakeDriver{readValues: func(points []model.DataPoint) ([]model.TimestampedValue, error) {
		reads.Add(1)
		now := time.Now()
		out := make([]model.TimestampedValue, len(points))
		for i, p := range points {
			out[i] = model.TimestampedValue{PointID: p.ID, Quality: model.QualityGood, SourceTimestamp: now, IngressTimestamp: now}
		}
		return out, nil
	}}
	settings := testSettings()
	settings.PollingIntervalMs = 5
	pl := pipeline.New(&noopCache{}, nil)
	w := New("dev1", fd, testPoints(), settings, pl)
	w.Start(context.Background()).Wait()

	time.Sleep(30 * time.Millisecond)
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	afterStop := reads.Load()
	time.Sleep(30 * time.Millisecond)
	if reads.Load() != afterStop {
		t.Fatalf("poll loop kept reading after Stop: before=%d after=%d", afterStop, reads.Load())
	}
}
