package modbus

import (
	"context"
	"fmt"
	"time"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
)

// ReadValues batches enabled points by (slave, register type) and
// contiguous address run, issuing the minimum number of requests, per
// spec.md §4.1.1/P1. The returned slice has the same length and order as
// points; a failed request degrades quality on just its slots and the
// batch goes on (spec.md §4.1), except after a connection-class error,
// which ends the batch at once and is returned, leaving the slots of
// requests not yet made at not_connected.
func (d *Driver) ReadValues(ctx context.Context, points []model.DataPoint) ([]model.TimestampedValue, error) {
	d.mu.Lock()
	client := d.client
	connected := d.connected
	byteOrder := d.byteOrder
	defaultSlave := d.defaultSlave
	maxGroup := d.maxRegsGroup
	d.mu.Unlock()

	now := time.Now()
	out := make([]model.TimestampedValue, len(points))
	for i := range out {
		out[i] = model.TimestampedValue{
			PointID:          points[i].ID,
			Quality:          model.QualityNotConnected,
			IngressTimestamp: now,
			SourceTimestamp:  now,
		}
	}
	if !connected || client == nil {
		return out, drv.New(drv.CodeConnectionLost, "modbus.ReadValues", nil)
	}

	byID := make(map[string]int, len(points))
	for i, p := range points {
		byID[p.ID] = i
	}

	plans, err := planRequests(points, defaultSlave, maxGroup)
	if err != nil {
		return out, drv.New(drv.CodeConfigurationError, "modbus.ReadValues", err)
	}

	for _, plan := range plans {
		start := time.Now()
		var data []byte
		readErr := d.withSlave(plan.slave, func() error {
			var err error
			data, err = d.executeRead(client, plan)
			return err
		})
		elapsed := time.Since(start)
		ok := readErr == nil
		d.stats.RecordRequest(ok, len(data), 0, elapsed)
		if readErr != nil {
			code := mapModbusError(readErr)
			d.stats.IncrMetric("error_"+string(code), 1)
			d.mu.Lock()
			d.lastErr = readErr
			d.mu.Unlock()
			for _, p := range plan.points {
				idx := byID[p.ID]
				out[idx].Quality = qualityForReadFailure(code)
			}
			if code.IsConnectionClass() {
				return out, drv.New(code, "modbus.ReadValues", readErr)
			}
			continue
		}
		d.decodeInto(out, byID, plan, data, byteOrder, now)
	}
	return out, nil
}

func qualityForReadFailure(code drv.ErrorCode) model.Quality {
	switch code {
	case drv.CodeDeviceError, drv.CodeDeviceBusy:
		return model.QualityDeviceFailure
	case drv.CodeInvalidAddress:
		return model.QualityBad
	default:
		return model.QualityCommFailure
	}
}

func (d *Driver) executeRead(client interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}, plan requestPlan) ([]byte, error) {
	switch plan.regType {
	case RegisterCoil:
		return client.ReadCoils(plan.start, plan.quantity)
	case RegisterDiscreteInput:
		return client.ReadDiscreteInputs(plan.start, plan.quantity)
	case RegisterHoldingRegister:
		return client.ReadHoldingRegisters(plan.start, plan.quantity)
	case RegisterInputRegister:
		return client.ReadInputRegisters(plan.start, plan.quantity)
	default:
		return nil, drv.New(drv.CodeNotImplemented, "modbus.executeRead", nil)
	}
}

func (d *Driver) decodeInto(out []model.TimestampedValue, byID map[string]int, plan requestPlan, data []byte, order ByteOrder, now time.Time) {
	for _, p := range plan.points {
		idx := byID[p.ID]
		offset := uint16(p.Address) - plan.start
		var val model.DataValue
		var err error
		if plan.regType.IsBitType() {
			byteIdx := offset / 8
			bitIdx := offset % 8
			b := false
			if int(byteIdx) < len(data) {
				b = data[byteIdx]&(1<<bitIdx) != 0
			}
			val = model.DataValue{Kind: model.KindBool, Bool: b}
		} else {
			span := wordSpan(p.DataType)
			byteStart := int(offset) * 2
			byteEnd := byteStart + int(span)*2
			if byteEnd > len(data) {
				out[idx].Quality = model.QualityBad
				continue
			}
			val, err = decodeRegisters(data[byteStart:byteEnd], p.DataType, order)
			if err != nil {
				out[idx].Quality = model.QualityBad
				continue
			}
		}
		out[idx].Value = val
		out[idx].Quality = model.QualityGood
		out[idx].SourceTimestamp = now
		out[idx].IngressTimestamp = now
	}
}

// WriteValue is synchronous and returns only after the remote ack or
// timeout, per spec.md §4.1.
func (d *Driver) WriteValue(ctx context.Context, point model.DataPoint, value model.DataValue) error {
	d.mu.Lock()
	client := d.client
	connected := d.connected
	byteOrder := d.byteOrder
	defaultSlave := d.defaultSlave
	d.mu.Unlock()
	if !connected || client == nil {
		return drv.New(drv.CodeConnectionLost, "modbus.WriteValue", nil).WithPoint(point.ID)
	}

	rt, err := registerTypeOf(point)
	if err != nil {
		return drv.New(drv.CodeInvalidParameter, "modbus.WriteValue", err).WithPoint(point.ID)
	}
	if rt != RegisterCoil && rt != RegisterHoldingRegister {
		return drv.New(drv.CodeInvalidParameter, "modbus.WriteValue", fmt.Errorf("register type %s is not writable", rt)).WithPoint(point.ID)
	}
	var regPayload []byte
	var regSpan uint16
	if rt == RegisterHoldingRegister {
		regSpan = wordSpan(point.DataType)
		if regSpan > 1 {
			var encErr error
			regPayload, encErr = encodeRegisters(value, byteOrder)
			if encErr != nil {
				return drv.New(drv.CodeDataTypeMismatch, "modbus.WriteValue", encErr).WithPoint(point.ID)
			}
		}
	}
	slave := slaveIDOf(point, defaultSlave)

	start := time.Now()
	writeErr := d.withSlave(slave, func() error {
		switch rt {
		case RegisterCoil:
			coilVal := uint16(0)
			if value.Bool {
				coilVal = 0xFF00
			}
			_, err := client.WriteSingleCoil(uint16(point.Address), coilVal)
			return err
		default: // RegisterHoldingRegister
			if regSpan == 1 {
				var word uint16
				if value.Kind == model.KindUint16 || value.Kind == model.KindUint8 {
					word = uint16(value.Uint)
				} else {
					word = uint16(value.Int)
				}
				_, err := client.WriteSingleRegister(uint16(point.Address), word)
				return err
			}
			_, err := client.WriteMultipleRegisters(uint16(point.Address), regSpan, regPayload)
			return err
		}
	})
	elapsed := time.Since(start)
	d.stats.RecordRequest(writeErr == nil, 0, 0, elapsed)
	if writeErr != nil {
		code := mapModbusError(writeErr)
		d.mu.Lock()
		d.lastErr = writeErr
		d.mu.Unlock()
		return drv.New(code, "modbus.WriteValue", writeErr).WithPoint(point.ID)
	}
	return nil
}
