package worker

import (
	"runtime"
	"time"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
)

// runPollLoop is the Worker's per-cycle read path, generalizing the
// teacher's Collector.Run ticker loop. It sleeps
// DeviceSettings.polling_interval_ms between cycles and hands each
// read batch to the Pipeline, per spec.md §4.2.
func (w *Worker) runPollLoop() {
	interval := time.Duration(w.settings.PollingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.yieldToPendingWrites()
			w.pollCycle()
		}
	}
}

// yieldToPendingWrites gives the write task a brief window to drain
// ahead of the next read, per spec.md §4.2 ("writes preempt the next
// read if both are pending").
func (w *Worker) yieldToPendingWrites() {
	for i := 0; i < 50 && w.pendingWrites.Load() > 0; i++ {
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

// dropCOVSubscribed removes points the driver has flagged as
// change-driven (COV-subscribed) from a poll batch, per spec.md §4.1.3
// ("the scheduler skips change-driven points"). Drivers that don't
// support COV (Modbus, MQTT) don't implement drv.COVAwareDriver, so
// this is a no-op for them.
func (w *Worker) dropCOVSubscribed(points []model.DataPoint) []model.DataPoint {
	cd, ok := w.driver.(drv.COVAwareDriver)
	if !ok {
		return points
	}
	filtered := make([]model.DataPoint, 0, len(points))
	for _, p := range points {
		if !cd.IsCOVSubscribed(p.ID) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func (w *Worker) pollCycle() {
	state := w.State()
	if state.suspendsPolling() || state == StateReconnecting || state == StateMaxRetriesExceeded || state == StateStopping {
		return
	}

	points := w.Points()
	if len(points) == 0 {
		return
	}
	points = w.dropCOVSubscribed(points)
	if len(points) == 0 {
		return
	}

	w.driverMu.Lock()
	raws, err := w.driver.ReadValues(w.ctx, points)
	w.driverMu.Unlock()

	if err != nil {
		if de, ok := err.(*drv.Error); ok && de.Code.IsConnectionClass() {
			w.degradeAndReconnect(points, raws, de)
			return
		}
		return
	}

	if _, perr := w.pipeline.Process(w.ctx, w.deviceID, points, raws); perr != nil {
		w.setLastErr(perr)
	}
}

// degradeAndReconnect preserves the last good values with quality
// downgraded to not_connected, publishes that degraded batch, then hands
// control to the reconnect policy, per spec.md §4.2's polling-loop rule.
func (w *Worker) degradeAndReconnect(points []model.DataPoint, raws []model.TimestampedValue, cause error) {
	now := w.nowFn()
	degraded := make([]model.TimestampedValue, len(points))
	for i, p := range points {
		tv := model.TimestampedValue{PointID: p.ID, Quality: model.QualityNotConnected, IngressTimestamp: now, SourceTimestamp: now}
		if i < len(raws) {
			tv.Value = raws[i].Value
			tv.SourceTimestamp = raws[i].SourceTimestamp
		}
		degraded[i] = tv
	}
	_, _ = w.pipeline.Process(w.ctx, w.deviceID, points, degraded)

	w.setLastErr(cause)
	w.setState(StateReconnecting)
	w.runReconnectLoop()
}

// runReconnectLoop implements the backoff delay sequence
// retry_interval_ms, 2x, 4x, … capped at backoff_time_ms, per spec.md
// §4.2. max_retry_count == 0 means retry forever. On success it returns
// with state RUNNING and performs one immediate poll cycle rather than
// waiting for the next tick; on exhausting retries it returns with
// state MAX_RETRIES_EXCEEDED.
func (w *Worker) runReconnectLoop() {
	delay := time.Duration(w.settings.RetryIntervalMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	backoffCap := time.Duration(w.settings.BackoffTimeMs) * time.Millisecond
	if backoffCap <= 0 {
		backoffCap = 30 * time.Second
	}
	maxRetry := w.settings.RetryCount

	for attempts := 0; ; attempts++ {
		if w.ctx.Err() != nil {
			return
		}
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}

		w.driverMu.Lock()
		err := w.driver.Connect(w.ctx)
		w.driverMu.Unlock()
		if err == nil {
			w.setLastErr(nil)
			w.setState(StateRunning)
			w.pollCycle()
			return
		}
		w.setLastErr(err)

		if maxRetry != 0 && attempts+1 >= maxRetry {
			w.setState(StateMaxRetriesExceeded)
			return
		}

		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}
