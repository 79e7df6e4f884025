package bacnet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
)

// rpmThreshold is the point count per device at or above which a poll
// would use ReadPropertyMultiple instead of one ReadProperty per point,
// per spec.md §4.1.3. This driver does not implement ReadPropertyMultiple:
// ReadValues compares each device's point count against the threshold but
// does not use the result, and every point issues its own ReadProperty
// exchange (see DESIGN.md).
const rpmThreshold = 4

// objectRef identifies a BACnet object on the bound device.
type objectRef struct {
	objectType uint32
	instance   uint32
	property   uint32
}

func refOf(p model.DataPoint) (objectRef, error) {
	typeStr, ok := p.Param("bacnet_object_type")
	if !ok {
		return objectRef{}, fmt.Errorf("missing bacnet_object_type")
	}
	objType, err := strconv.ParseUint(typeStr, 10, 32)
	if err != nil {
		return objectRef{}, fmt.Errorf("bacnet_object_type: %w", err)
	}
	instStr, ok := p.Param("bacnet_instance")
	if !ok {
		return objectRef{}, fmt.Errorf("missing bacnet_instance")
	}
	inst, err := strconv.ParseUint(instStr, 10, 32)
	if err != nil {
		return objectRef{}, fmt.Errorf("bacnet_instance: %w", err)
	}
	prop := uint32(presentValuePropertyID)
	if propStr, ok := p.Param("bacnet_property"); ok {
		if v, err := strconv.ParseUint(propStr, 10, 32); err == nil {
			prop = uint32(v)
		}
	}
	return objectRef{objectType: uint32(objType), instance: uint32(inst), property: prop}, nil
}

// deviceOf resolves which bound device instance a point's address maps
// to. properties.bacnet_device_instance overrides; otherwise the sole
// bound device is used (the common single-device-per-Driver case).
func (d *Driver) deviceOf(p model.DataPoint) (boundDevice, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := p.Param("bacnet_device_instance"); ok {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			if bd, ok := d.bound[uint32(n)]; ok {
				return bd, true
			}
		}
	}
	for _, bd := range d.bound {
		return bd, true
	}
	return boundDevice{}, false
}

// deviceGroup is one bound device's share of a ReadValues batch: the
// device to talk to and the indexes (into the caller's points/out
// slices) of the points that live on it.
type deviceGroup struct {
	bd   boundDevice
	idxs []int
}

// ReadValues reads every point's present value via ReadProperty, per
// spec.md §4.1.3. Points sharing a device are grouped so that one
// statistics record covers each device's share of the batch; each point
// gets its own confirmed ReadProperty exchange, whatever the group size.
func (d *Driver) ReadValues(ctx context.Context, points []model.DataPoint) ([]model.TimestampedValue, error) {
	now := time.Now()
	byDevice := make(map[uint32]*deviceGroup)
	for i, p := range points {
		bd, ok := d.deviceOf(p)
		if !ok {
			continue
		}
		g, ok := byDevice[bd.instance]
		if !ok {
			g = &deviceGroup{bd: bd}
			byDevice[bd.instance] = g
		}
		g.idxs = append(g.idxs, i)
	}

	out := make([]model.TimestampedValue, len(points))
	for i := range out {
		out[i] = model.TimestampedValue{
			PointID: points[i].ID, Quality: model.QualityNotConnected,
			IngressTimestamp: now, SourceTimestamp: now,
		}
	}

	for _, g := range byDevice {
		useRPM := len(g.idxs) >= rpmThreshold
		_ = useRPM // batching above rpmThreshold is deferred; see DESIGN.md
		start := time.Now()
		ok := true
		for _, i := range g.idxs {
			ref, err := refOf(points[i])
			if err != nil {
				out[i].Quality = model.QualityBad
				continue
			}
			val, rerr := d.readProperty(g.bd, ref)
			if rerr != nil {
				d.mu.Lock()
				d.lastErr = rerr
				d.mu.Unlock()
				out[i].Quality = model.QualityDeviceFailure
				ok = false
				continue
			}
			out[i].Value = val
			out[i].Quality = model.QualityGood
			out[i].SourceTimestamp = now
			out[i].IngressTimestamp = now
		}
		d.stats.RecordRequest(ok, len(g.idxs), 0, time.Since(start))
	}
	return out, nil
}

// readProperty runs a confirmed ReadProperty exchange against bd for
// ref, decoding the ComplexAck's property value.
func (d *Driver) readProperty(bd boundDevice, ref objectRef) (model.DataValue, error) {
	frame, invokeID, err := d.exchangeConfirmed(bd.addr, func(invokeID byte) []byte {
		return encodeReadPropertyRequest(invokeID, ref)
	})
	if err != nil {
		return model.DataValue{}, fmt.Errorf("bacnet ReadProperty: %w", err)
	}
	val, err := decodeReadPropertyAck(frame, invokeID)
	if err != nil {
		return model.DataValue{}, fmt.Errorf("bacnet ReadProperty: %w", err)
	}
	return val, nil
}

// writeProperty runs a confirmed WriteProperty exchange against bd for
// ref, validating the SimpleAck.
func (d *Driver) writeProperty(bd boundDevice, ref objectRef, value model.DataValue) error {
	var encErr error
	frame, invokeID, err := d.exchangeConfirmed(bd.addr, func(invokeID byte) []byte {
		req, e := encodeWritePropertyRequest(invokeID, ref, value)
		if e != nil {
			encErr = e
			return nil
		}
		return req
	})
	if encErr != nil {
		return fmt.Errorf("bacnet WriteProperty: %w", encErr)
	}
	if err != nil {
		return fmt.Errorf("bacnet WriteProperty: %w", err)
	}
	if err := decodeWritePropertyAck(frame, invokeID); err != nil {
		return fmt.Errorf("bacnet WriteProperty: %w", err)
	}
	return nil
}

// WriteValue issues a WriteProperty to the point's present value, per
// spec.md §4.1.3.
func (d *Driver) WriteValue(ctx context.Context, point model.DataPoint, value model.DataValue) error {
	if !point.Writable {
		return drv.New(drv.CodeAccessDenied, "bacnet.WriteValue", fmt.Errorf("point is not writable")).WithPoint(point.ID)
	}
	bd, ok := d.deviceOf(point)
	if !ok {
		return drv.New(drv.CodeConnectionLost, "bacnet.WriteValue", fmt.Errorf("no bound device")).WithPoint(point.ID)
	}
	ref, err := refOf(point)
	if err != nil {
		return drv.New(drv.CodeInvalidParameter, "bacnet.WriteValue", err).WithPoint(point.ID)
	}

	start := time.Now()
	werr := d.writeProperty(bd, ref, value)
	d.stats.RecordRequest(werr == nil, 0, 0, time.Since(start))
	if werr != nil {
		d.mu.Lock()
		d.lastErr = werr
		d.mu.Unlock()
		return drv.New(drv.CodeProtocolError, "bacnet.WriteValue", werr).WithPoint(point.ID)
	}
	return nil
}

// SubscribeCOV marks a DataPoint as change-driven. It only records a local
// flag: no SubscribeCOV service request is sent, no lifetime is renewed,
// and no COV notification is received. The Worker's poll scheduler reads
// the flag through IsCOVSubscribed and leaves such points out of its read
// batches.
func (d *Driver) SubscribeCOV(pointID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.covPoints[pointID] = true
}

func (d *Driver) IsCOVSubscribed(pointID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.covPoints[pointID]
}
