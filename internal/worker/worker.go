package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
	"github.com/pulseone-io/collector/internal/pipeline"
)

// Worker owns exactly one Driver and one device's DataPoints, per
// spec.md §4.2 and §5 ("Worker owns exactly one Driver instance
// exclusively"). Generalizes the teacher's
// internal/collector.Collector (one Collector per device, one
// goroutine, a ticker-driven pollOnce) into the full state machine.
type Worker struct {
	deviceID string
	driver   drv.ProtocolDriver
	settings model.DeviceSettings
	pipeline *pipeline.Pipeline

	mu     sync.RWMutex
	points []model.DataPoint
	state  State
	lastErr error

	driverMu      sync.Mutex
	pendingWrites atomic.Int32

	writeCh chan writeRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nowFn func() time.Time
}

// New builds a Worker. Construction alone does not connect the driver;
// call Start for that.
func New(deviceID string, driver drv.ProtocolDriver, points []model.DataPoint, settings model.DeviceSettings, pl *pipeline.Pipeline) *Worker {
	return &Worker{
		deviceID: deviceID,
		driver:   driver,
		points:   points,
		settings: settings,
		pipeline: pl,
		state:    StateStopped,
		writeCh:  make(chan writeRequest, 64),
		nowFn:    time.Now,
	}
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

func (w *Worker) setLastErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) DeviceID() string { return w.deviceID }

// Connected reports the owned Driver's current transport status, used
// by the Manager's bulk status snapshot (spec.md §4.5).
func (w *Worker) Connected() bool {
	w.driverMu.Lock()
	defer w.driverMu.Unlock()
	return w.driver.IsConnected()
}

// Points returns the enabled DataPoints this Worker polls.
func (w *Worker) Points() []model.DataPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.DataPoint, 0, len(w.points))
	for _, p := range w.points {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// SetOperatorState transitions into one of the operator states
// (MAINTENANCE, SIMULATION, …), valid from RUNNING, per spec.md §4.2,
// and also from any state that already suspends polling (PAUSED or
// another operator state). The driver connection is left untouched.
func (w *Worker) SetOperatorState(s State) error {
	switch s {
	case StateMaintenance, StateSimulation, StateCalibration, StateManualOverride,
		StateEmergencyStop, StateBypassMode, StateDiagnosticMode:
	default:
		return drv.New(drv.CodeInvalidParameter, "worker.SetOperatorState", nil)
	}
	cur := w.State()
	if cur != StateRunning && !cur.suspendsPolling() {
		return drv.New(drv.CodeInvalidParameter, "worker.SetOperatorState", nil)
	}
	w.setState(s)
	return nil
}

// ResumeRunning leaves an operator state and returns to RUNNING.
func (w *Worker) ResumeRunning() {
	if w.State().suspendsPolling() {
		w.setState(StateRunning)
	}
}

// Start builds the DriverConfig-equivalent Connect call and spawns the
// polling and write tasks. The returned Future resolves once the first
// connect attempt completes — success or failure — per spec.md §4.2's
// "Worker is still alive" asymmetry: a failed first connect still
// yields a running Worker parked in RECONNECTING, not a failed Start.
func (w *Worker) Start(parent context.Context) *Future {
	f := newFuture()
	w.ctx, w.cancel = context.WithCancel(parent)
	w.setState(StateStarting)

	w.wg.Add(2)
	go w.runWriteLoop()
	go func() {
		defer w.wg.Done()
		w.driverMu.Lock()
		err := w.driver.Connect(w.ctx)
		w.driverMu.Unlock()

		if err == nil {
			w.setState(StateRunning)
		} else {
			w.setLastErr(err)
			w.setState(StateReconnecting)
		}
		f.resolve(err)

		if err == nil {
			w.runPollLoop()
			return
		}
		w.runReconnectLoop()
		w.runPollLoop()
	}()
	return f
}

// Stop transitions to STOPPING, cancels the context, waits for both
// background tasks to exit, and disconnects the driver, per P6 ("no
// further TimestampedValue for that device appears at any sink" after
// Stop resolves).
func (w *Worker) Stop(ctx context.Context) error {
	if w.State() == StateStopped {
		return nil
	}
	w.setState(StateStopping)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.driverMu.Lock()
	err := w.driver.Disconnect(ctx)
	w.driverMu.Unlock()
	w.setState(StateStopped)
	return err
}

func (w *Worker) publishDirect(point model.DataPoint, tv model.TimestampedValue) {
	_, err := w.pipeline.Process(w.ctx, w.deviceID, []model.DataPoint{point}, []model.TimestampedValue{tv})
	if err != nil {
		log.Printf("worker %s: sink error publishing point %s: %v", w.deviceID, point.ID, err)
	}
}

func (w *Worker) enterReconnecting(cause error) {
	if w.State() == StateReconnecting || w.State() == StateMaxRetriesExceeded {
		return
	}
	w.setLastErr(cause)
	w.setState(StateReconnecting)
}
