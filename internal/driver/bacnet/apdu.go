package bacnet

// Self-contained BACnet/IP framing: BVLC header, NPDU, and the APDU
// slice this driver actually speaks — Who-Is/I-Am for binding (spec.md
// §4.1.3) plus ReadProperty/WriteProperty for the confirmed-service
// exchanges ReadValues/WriteValue drive once bound. Object/property
// vocabulary (not wire layout) still comes from github.com/absmach/bacnet
// per DESIGN.md.

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pulseone-io/collector/internal/model"
)

const (
	bvlcType          byte = 0x81
	bvlcOriginalBcast byte = 0x0B
	bvlcOriginalUcast byte = 0x0A

	npduVersion byte = 0x01

	apduUnconfirmedReq byte = 0x10
	apduConfirmedReq   byte = 0x00
	apduSimpleAck      byte = 0x20
	apduComplexAck     byte = 0x30
	apduError          byte = 0x50
	apduReject         byte = 0x60
	apduAbort          byte = 0x70

	serviceWhoIs         byte = 0x08
	serviceIAm           byte = 0x00
	serviceReadProperty  byte = 0x0C
	serviceWriteProperty byte = 0x0F

	// maxApduLengthByte advertises unsegmented requests accepted, max
	// APDU 1476 octets — this driver never segments a request or
	// response.
	maxApduLengthByte byte = 0x05
)

// wrapBVLC prepends the NPDU (version, no options) and BVLC header
// (function fn, total-length) around an already-built APDU.
func wrapBVLC(fn byte, apdu []byte) []byte {
	npdu := []byte{npduVersion, 0x00}
	payload := append(npdu, apdu...)
	header := []byte{bvlcType, fn, 0, 0}
	binary.BigEndian.PutUint16(header[2:], uint16(len(header)+len(payload)))
	return append(header, payload...)
}

// encodeWhoIs builds a BVLC "Original-Broadcast-NPDU" carrying an
// unconfirmed Who-Is service request with the given device-instance
// range.
func encodeWhoIs(min, max uint32) []byte {
	apdu := []byte{apduUnconfirmedReq, serviceWhoIs}
	apdu = append(apdu, encodeUnsigned(min)...)
	apdu = append(apdu, encodeUnsigned(max)...)
	return wrapBVLC(bvlcOriginalBcast, apdu)
}

// npduSkip returns the offset of the first APDU byte in frame, past the
// 4-byte BVLC header and the NPDU (version, control, and any
// destination/source routing fields the control byte flags).
func npduSkip(frame []byte) (pos int, ok bool) {
	if len(frame) < 6 || frame[0] != bvlcType {
		return 0, false
	}
	i := 4
	if i >= len(frame) {
		return 0, false
	}
	i++ // version
	control := frame[i]
	i++
	if control&0x20 != 0 { // destination present: DNET, DLEN, DADR
		i += 3
		if i > len(frame) {
			return 0, false
		}
		i += int(frame[i-1])
	}
	if control&0x08 != 0 { // source present: SNET, SLEN, SADR
		i += 3
		if i > len(frame) {
			return 0, false
		}
		i += int(frame[i-1])
	}
	if control&0x20 != 0 {
		i++ // hop count
	}
	if i > len(frame) {
		return 0, false
	}
	return i, true
}

// decodeIAm extracts the device instance from an I-Am message. ok is
// false for anything that isn't a recognizable I-Am frame.
func decodeIAm(frame []byte) (instance uint32, ok bool) {
	i, ok := npduSkip(frame)
	if !ok {
		return 0, false
	}
	if i+2 > len(frame) || frame[i] != apduUnconfirmedReq || frame[i+1] != serviceIAm {
		return 0, false
	}
	i += 2
	if i >= len(frame) {
		return 0, false
	}
	// Object identifier application tag (context/application-tagged
	// BACnetObjectIdentifier): tag octet then 4 octets encoding
	// type(10 bits)+instance(22 bits).
	i++ // tag octet
	if i+4 > len(frame) {
		return 0, false
	}
	raw := binary.BigEndian.Uint32(frame[i : i+4])
	instance = raw & 0x3FFFFF
	return instance, true
}

func encodeUnsigned(v uint32) []byte {
	tag := byte(0x21) // application tag 2 (unsigned), length 1, grown below if needed
	switch {
	case v <= 0xFF:
		return []byte{tag, byte(v)}
	case v <= 0xFFFF:
		b := make([]byte, 3)
		b[0] = 0x22
		binary.BigEndian.PutUint16(b[1:], uint16(v))
		return b
	default:
		b := make([]byte, 5)
		b[0] = 0x24
		binary.BigEndian.PutUint32(b[1:], v)
		return b
	}
}

// contextTag builds a context-tagged primitive's tag octet: tag number
// in the high nibble, the context-class bit, and length (0-4) in the
// low 3 bits.
func contextTag(tagNumber byte, length int) byte {
	return (tagNumber << 4) | 0x08 | byte(length)
}

func openingTag(tagNumber byte) byte { return (tagNumber << 4) | 0x0E }
func closingTag(tagNumber byte) byte { return (tagNumber << 4) | 0x0F }

// tagAndLength builds an application-tagged primitive's tag octet(s):
// lengths 0-4 fit directly in the low 3 bits; longer values use the
// extended-length form (3-bit field 5, followed by one length octet),
// which this driver's value set (up to an 8-byte double) never
// exceeds.
func tagAndLength(tagNumber byte, length int) []byte {
	if length <= 4 {
		return []byte{(tagNumber << 4) | byte(length)}
	}
	return []byte{(tagNumber << 4) | 0x05, byte(length)}
}

// encodeObjectID packs a BACnetObjectIdentifier: 10-bit object type
// then 22-bit instance number, big-endian.
func encodeObjectID(objType, instance uint32) []byte {
	raw := (objType&0x3FF)<<22 | (instance & 0x3FFFFF)
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, raw)
	return b
}

// minimalUintBytes returns the smallest big-endian encoding of v,
// without a tag octet, used for the raw bytes inside a context tag
// (e.g. a property identifier).
func minimalUintBytes(v uint32) []byte {
	switch {
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
		return b
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
}

func minimalIntBytes(v int32) []byte {
	switch {
	case v >= -128 && v <= 127:
		return []byte{byte(int8(v))}
	case v >= -32768 && v <= 32767:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(int16(v)))
		return b
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		return b
	}
}

// encodeReadPropertyRequest builds a confirmed ReadProperty-Request for
// ref's object/property, per spec.md §4.1.3.
func encodeReadPropertyRequest(invokeID byte, ref objectRef) []byte {
	apdu := []byte{apduConfirmedReq, maxApduLengthByte, invokeID, serviceReadProperty}
	apdu = append(apdu, contextTag(0, 4))
	apdu = append(apdu, encodeObjectID(ref.objectType, ref.instance)...)
	propBytes := minimalUintBytes(ref.property)
	apdu = append(apdu, contextTag(1, len(propBytes)))
	apdu = append(apdu, propBytes...)
	return wrapBVLC(bvlcOriginalUcast, apdu)
}

// encodeWritePropertyRequest builds a confirmed WriteProperty-Request
// writing value to ref's object/property, using the default priority
// (none given, i.e. relinquish-default behavior).
func encodeWritePropertyRequest(invokeID byte, ref objectRef, value model.DataValue) ([]byte, error) {
	valBytes, err := encodeApplicationValue(value)
	if err != nil {
		return nil, err
	}
	apdu := []byte{apduConfirmedReq, maxApduLengthByte, invokeID, serviceWriteProperty}
	apdu = append(apdu, contextTag(0, 4))
	apdu = append(apdu, encodeObjectID(ref.objectType, ref.instance)...)
	propBytes := minimalUintBytes(ref.property)
	apdu = append(apdu, contextTag(1, len(propBytes)))
	apdu = append(apdu, propBytes...)
	apdu = append(apdu, openingTag(3))
	apdu = append(apdu, valBytes...)
	apdu = append(apdu, closingTag(3))
	return wrapBVLC(bvlcOriginalUcast, apdu), nil
}

// encodeApplicationValue encodes a DataValue as an application-tagged
// BACnet primitive, the inverse of decodeApplicationValue.
func encodeApplicationValue(v model.DataValue) ([]byte, error) {
	switch v.Kind {
	case model.KindBool:
		b := 0
		if v.Bool {
			b = 1
		}
		return tagAndLength(1, b), nil
	case model.KindUint8, model.KindUint16, model.KindUint32, model.KindUint64:
		data := minimalUintBytes(uint32(v.Uint))
		return append(tagAndLength(2, len(data)), data...), nil
	case model.KindInt8, model.KindInt16, model.KindInt32, model.KindInt64:
		data := minimalIntBytes(int32(v.Int))
		return append(tagAndLength(3, len(data)), data...), nil
	case model.KindFloat32:
		data := make([]byte, 4)
		binary.BigEndian.PutUint32(data, math.Float32bits(float32(v.Float)))
		return append(tagAndLength(4, 4), data...), nil
	case model.KindFloat64:
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, math.Float64bits(v.Float))
		return append(tagAndLength(5, 8), data...), nil
	case model.KindBytes:
		return append(tagAndLength(6, len(v.Bytes)), v.Bytes...), nil
	case model.KindString:
		data := append([]byte{0}, []byte(v.Str)...) // encoding 0: ANSI X3.4 / UTF-8-compatible
		return append(tagAndLength(7, len(data)), data...), nil
	default:
		return nil, fmt.Errorf("unsupported write value kind %s", v.Kind)
	}
}

// decodeApplicationValue decodes one application-tagged primitive
// starting at pos, returning the value and the offset just past it.
func decodeApplicationValue(frame []byte, pos int) (model.DataValue, int, error) {
	if pos >= len(frame) {
		return model.DataValue{}, pos, fmt.Errorf("truncated value")
	}
	tagByte := frame[pos]
	if tagByte&0x08 != 0 {
		return model.DataValue{}, pos, fmt.Errorf("expected application tag, got context tag 0x%02x", tagByte)
	}
	tagNum := tagByte >> 4
	lenBits := tagByte & 0x07
	pos++
	if tagNum == 1 { // boolean: value lives in the length field itself
		return model.DataValue{Kind: model.KindBool, Bool: lenBits != 0}, pos, nil
	}
	length := int(lenBits)
	if length == 5 {
		if pos >= len(frame) {
			return model.DataValue{}, pos, fmt.Errorf("truncated extended length")
		}
		length = int(frame[pos])
		pos++
	}
	if pos+length > len(frame) {
		return model.DataValue{}, pos, fmt.Errorf("truncated value data")
	}
	data := frame[pos : pos+length]
	pos += length

	switch tagNum {
	case 0: // null
		return model.DataValue{}, pos, nil
	case 2: // unsigned
		return model.DataValue{Kind: model.KindUint32, Uint: uint64(bytesToUint(data))}, pos, nil
	case 3: // signed
		return model.DataValue{Kind: model.KindInt32, Int: int64(bytesToInt(data))}, pos, nil
	case 4: // real
		if len(data) < 4 {
			return model.DataValue{}, pos, fmt.Errorf("short real value")
		}
		return model.DataValue{Kind: model.KindFloat32, Float: float64(math.Float32frombits(binary.BigEndian.Uint32(data)))}, pos, nil
	case 5: // double
		if len(data) < 8 {
			return model.DataValue{}, pos, fmt.Errorf("short double value")
		}
		return model.DataValue{Kind: model.KindFloat64, Float: math.Float64frombits(binary.BigEndian.Uint64(data))}, pos, nil
	case 6: // octet string
		return model.DataValue{Kind: model.KindBytes, Bytes: append([]byte(nil), data...)}, pos, nil
	case 7: // character string: first octet is the encoding
		if len(data) < 1 {
			return model.DataValue{Kind: model.KindString}, pos, nil
		}
		return model.DataValue{Kind: model.KindString, Str: string(data[1:])}, pos, nil
	case 9: // enumerated
		return model.DataValue{Kind: model.KindUint32, Uint: uint64(bytesToUint(data))}, pos, nil
	default:
		return model.DataValue{}, pos, fmt.Errorf("unsupported application tag %d", tagNum)
	}
}

func bytesToUint(data []byte) uint32 {
	var v uint32
	for _, b := range data {
		v = v<<8 | uint32(b)
	}
	return v
}

func bytesToInt(data []byte) int32 {
	if len(data) == 0 {
		return 0
	}
	v := int32(int8(data[0]))
	for _, b := range data[1:] {
		v = v<<8 | int32(b)
	}
	return v
}

// skipContextTag validates the context tag at pos matches wantTag and
// returns the offset just past its value, without decoding the value.
func skipContextTag(frame []byte, pos int, wantTag byte) (int, error) {
	if pos >= len(frame) {
		return 0, fmt.Errorf("truncated frame")
	}
	tagByte := frame[pos]
	if tagByte&0x08 == 0 || tagByte>>4 != wantTag {
		return 0, fmt.Errorf("expected context tag %d, got 0x%02x", wantTag, tagByte)
	}
	length := int(tagByte & 0x07)
	pos++
	if length == 5 {
		if pos >= len(frame) {
			return 0, fmt.Errorf("truncated extended length")
		}
		length = int(frame[pos])
		pos++
	}
	pos += length
	if pos > len(frame) {
		return 0, fmt.Errorf("truncated context value")
	}
	return pos, nil
}

// decodeServiceError turns a BACnet-Error/Reject/Abort APDU into a Go
// error; apdu[0] is the PDU type octet.
func decodeServiceError(apdu []byte) error {
	if len(apdu) == 0 {
		return fmt.Errorf("bacnet service error")
	}
	reason := byte(0)
	if len(apdu) > 2 {
		reason = apdu[2]
	}
	switch apdu[0] & 0xF0 {
	case apduError:
		return fmt.Errorf("bacnet error response (service choice 0x%02x)", reason)
	case apduReject:
		return fmt.Errorf("bacnet reject, reason %d", reason)
	case apduAbort:
		return fmt.Errorf("bacnet abort, reason %d", reason)
	default:
		return fmt.Errorf("bacnet service error")
	}
}

// decodeReadPropertyAck decodes a ReadProperty ComplexAck's property
// value, validating the invoke id and service choice match the request.
func decodeReadPropertyAck(frame []byte, invokeID byte) (model.DataValue, error) {
	i, ok := npduSkip(frame)
	if !ok {
		return model.DataValue{}, fmt.Errorf("malformed npdu")
	}
	if i+3 > len(frame) {
		return model.DataValue{}, fmt.Errorf("short apdu")
	}
	switch frame[i] & 0xF0 {
	case apduError, apduReject, apduAbort:
		return model.DataValue{}, decodeServiceError(frame[i:])
	case apduComplexAck:
	default:
		return model.DataValue{}, fmt.Errorf("unexpected pdu type 0x%02x", frame[i])
	}
	if frame[i+1] != invokeID {
		return model.DataValue{}, fmt.Errorf("invoke id mismatch")
	}
	if frame[i+2] != serviceReadProperty {
		return model.DataValue{}, fmt.Errorf("unexpected service choice 0x%02x", frame[i+2])
	}

	pos := i + 3
	pos, err := skipContextTag(frame, pos, 0) // object identifier
	if err != nil {
		return model.DataValue{}, err
	}
	pos, err = skipContextTag(frame, pos, 1) // property identifier
	if err != nil {
		return model.DataValue{}, err
	}
	if pos < len(frame) && frame[pos]&0x08 != 0 && frame[pos]>>4 == 2 { // optional array index
		pos, err = skipContextTag(frame, pos, 2)
		if err != nil {
			return model.DataValue{}, err
		}
	}
	if pos >= len(frame) || frame[pos] != openingTag(3) {
		return model.DataValue{}, fmt.Errorf("missing property-value opening tag")
	}
	pos++
	val, pos, err := decodeApplicationValue(frame, pos)
	if err != nil {
		return model.DataValue{}, err
	}
	if pos >= len(frame) || frame[pos] != closingTag(3) {
		return model.DataValue{}, fmt.Errorf("missing property-value closing tag")
	}
	return val, nil
}

// decodeWritePropertyAck validates a WriteProperty SimpleAck's invoke
// id and service choice, or turns an Error/Reject/Abort into an error.
func decodeWritePropertyAck(frame []byte, invokeID byte) error {
	i, ok := npduSkip(frame)
	if !ok {
		return fmt.Errorf("malformed npdu")
	}
	if i+3 > len(frame) {
		return fmt.Errorf("short apdu")
	}
	switch frame[i] & 0xF0 {
	case apduSimpleAck:
		if frame[i+1] != invokeID {
			return fmt.Errorf("invoke id mismatch")
		}
		if frame[i+2] != serviceWriteProperty {
			return fmt.Errorf("unexpected service choice 0x%02x", frame[i+2])
		}
		return nil
	case apduError, apduReject, apduAbort:
		return decodeServiceError(frame[i:])
	default:
		return fmt.Errorf("unexpected pdu type 0x%02x", frame[i])
	}
}
