package modbus

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/pulseone-io/collector/internal/model"
)

// ByteOrder controls word ordering for multi-register values, taken from
// properties.byte_order per spec.md §4.1.1. Generalizes the teacher's
// reorder32 (internal/collector/client.go) to 64-bit spans too.
type ByteOrder string

const (
	BigEndian    ByteOrder = "big_endian"
	LittleEndian ByteOrder = "little_endian"
)

func byteOrderOf(raw string) ByteOrder {
	if strings.EqualFold(raw, string(LittleEndian)) {
		return LittleEndian
	}
	return BigEndian
}

// reorderWords reorders 16-bit-register-sized chunks of data according to
// order; each register is always transmitted big-endian on the wire, so
// only word order (not byte order within a word) varies.
func reorderWords(data []byte, order ByteOrder) []byte {
	n := len(data) / 2
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		var srcWord int
		if order == LittleEndian {
			srcWord = n - 1 - i
		} else {
			srcWord = i
		}
		copy(out[i*2:i*2+2], data[srcWord*2:srcWord*2+2])
	}
	return out
}

// decodeRegisters turns a raw register payload into a typed DataValue,
// generalizing the teacher's decodeRegisterData/reorder32 from a
// uint16/int16/float32/uint32/int32-only switch to the full DataKind set.
func decodeRegisters(data []byte, kind model.DataKind, order ByteOrder) (model.DataValue, error) {
	ordered := reorderWords(data, order)
	switch kind {
	case model.KindUint16:
		if len(ordered) < 2 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Uint: uint64(binary.BigEndian.Uint16(ordered))}, nil
	case model.KindInt16:
		if len(ordered) < 2 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Int: int64(int16(binary.BigEndian.Uint16(ordered)))}, nil
	case model.KindUint8:
		if len(ordered) < 2 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Uint: uint64(ordered[1])}, nil
	case model.KindInt8:
		if len(ordered) < 2 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Int: int64(int8(ordered[1]))}, nil
	case model.KindUint32:
		if len(ordered) < 4 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Uint: uint64(binary.BigEndian.Uint32(ordered))}, nil
	case model.KindInt32:
		if len(ordered) < 4 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Int: int64(int32(binary.BigEndian.Uint32(ordered)))}, nil
	case model.KindFloat32:
		if len(ordered) < 4 {
			return model.DataValue{}, errInsufficientData
		}
		bits := binary.BigEndian.Uint32(ordered)
		return model.DataValue{Kind: kind, Float: float64(math.Float32frombits(bits))}, nil
	case model.KindUint64:
		if len(ordered) < 8 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Uint: binary.BigEndian.Uint64(ordered)}, nil
	case model.KindInt64:
		if len(ordered) < 8 {
			return model.DataValue{}, errInsufficientData
		}
		return model.DataValue{Kind: kind, Int: int64(binary.BigEndian.Uint64(ordered))}, nil
	case model.KindFloat64:
		if len(ordered) < 8 {
			return model.DataValue{}, errInsufficientData
		}
		bits := binary.BigEndian.Uint64(ordered)
		return model.DataValue{Kind: kind, Float: math.Float64frombits(bits)}, nil
	case model.KindString, model.KindBytes:
		return model.DataValue{Kind: kind, Bytes: append([]byte(nil), ordered...), Str: string(ordered)}, nil
	default:
		return model.DataValue{}, errUnsupportedDataType
	}
}

// encodeRegisters is the write-path inverse of decodeRegisters, used by
// WriteValue for multi-register writes.
func encodeRegisters(v model.DataValue, order ByteOrder) ([]byte, error) {
	var raw []byte
	switch v.Kind {
	case model.KindUint16, model.KindInt16, model.KindUint8, model.KindInt8:
		raw = make([]byte, 2)
		binary.BigEndian.PutUint16(raw, uint16(v.Uint)|uint16(v.Int))
	case model.KindUint32:
		raw = make([]byte, 4)
		binary.BigEndian.PutUint32(raw, uint32(v.Uint))
	case model.KindInt32:
		raw = make([]byte, 4)
		binary.BigEndian.PutUint32(raw, uint32(v.Int))
	case model.KindFloat32:
		raw = make([]byte, 4)
		binary.BigEndian.PutUint32(raw, math.Float32bits(float32(v.Float)))
	case model.KindUint64:
		raw = make([]byte, 8)
		binary.BigEndian.PutUint64(raw, v.Uint)
	case model.KindInt64:
		raw = make([]byte, 8)
		binary.BigEndian.PutUint64(raw, uint64(v.Int))
	case model.KindFloat64:
		raw = make([]byte, 8)
		binary.BigEndian.PutUint64(raw, math.Float64bits(v.Float))
	default:
		return nil, errUnsupportedDataType
	}
	return reorderWords(raw, order), nil
}

var (
	errInsufficientData   = &codecError{"insufficient register data"}
	errUnsupportedDataType = &codecError{"unsupported data type for modbus codec"}
)

type codecError struct{ msg string }

func (e *codecError) Error() string { return e.msg }
