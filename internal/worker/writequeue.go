package worker

import (
	"context"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
)

type writeRequest struct {
	point  model.DataPoint
	value  model.DataValue
	future *Future
}

// WriteDataPoint enqueues a write and returns a Future resolved once the
// write task has processed it, per spec.md §4.2. Writes preempt the next
// scheduled read when both are pending (see pendingWrites in poll.go).
func (w *Worker) WriteDataPoint(point model.DataPoint, value model.DataValue) *Future {
	f := newFuture()
	state := w.State()
	if state.rejectsWrites() {
		f.resolve(drv.New(drv.CodeAccessDenied, "worker.WriteDataPoint", nil).WithPoint(point.ID))
		return f
	}
	select {
	case w.writeCh <- writeRequest{point: point, value: value, future: f}:
	case <-w.ctx.Done():
		f.resolve(context.Canceled)
	}
	return f
}

// runWriteLoop is the dedicated write task spec.md §4.2 requires,
// draining the queue independently of the poll loop's ticker.
func (w *Worker) runWriteLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case req := <-w.writeCh:
			w.pendingWrites.Add(1)
			err := w.executeWrite(req.point, req.value)
			w.pendingWrites.Add(-1)
			req.future.resolve(err)
		}
	}
}

func (w *Worker) executeWrite(point model.DataPoint, value model.DataValue) error {
	state := w.State()
	if state.rejectsWrites() {
		return drv.New(drv.CodeAccessDenied, "worker.executeWrite", nil).WithPoint(point.ID)
	}

	now := w.nowFn()
	if state.isSimulated() {
		tv := model.TimestampedValue{
			PointID: point.ID, Value: value, Quality: model.QualityGood,
			SourceTimestamp: now, IngressTimestamp: now, Simulated: true, Changed: true,
		}
		w.publishDirect(point, tv)
		return nil
	}

	w.driverMu.Lock()
	err := w.driver.WriteValue(w.ctx, point, value)
	w.driverMu.Unlock()
	if err != nil {
		if de, ok := err.(*drv.Error); ok && de.Code.IsConnectionClass() {
			w.enterReconnecting(err)
		}
		return err
	}

	tv := model.TimestampedValue{
		PointID: point.ID, Value: value, Quality: model.QualityGood,
		SourceTimestamp: now, IngressTimestamp: now, Changed: true,
	}
	w.publishDirect(point, tv)
	return nil
}
