package modbus

import (
	"testing"

	"github.com/pulseone-io/collector/internal/model"
)

func TestDecodeRegisters_Float32BigEndian(t *testing.T) {
	// 25.0f as big-endian IEEE754: 0x41C80000
	data := []byte{0x41, 0xC8, 0x00, 0x00}
	v, err := decodeRegisters(data, model.KindFloat32, BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Float != 25.0 {
		t.Fatalf("expected 25.0, got %v", v.Float)
	}
}

func TestDecodeRegisters_WordSwap(t *testing.T) {
	data := []byte{0x00, 0x00, 0x41, 0xC8} // little_endian word order
	v, err := decodeRegisters(data, model.KindFloat32, LittleEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Float != 25.0 {
		t.Fatalf("expected 25.0 after word-swap, got %v", v.Float)
	}
}

func TestEncodeDecodeRoundTrip_Int32(t *testing.T) {
	in := model.DataValue{Kind: model.KindInt32, Int: -12345}
	raw, err := encodeRegisters(in, BigEndian)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeRegisters(raw, model.KindInt32, BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Int != in.Int {
		t.Fatalf("round trip mismatch: got %d want %d", out.Int, in.Int)
	}
}

func TestDecodeRegisters_Uint16(t *testing.T) {
	v, err := decodeRegisters([]byte{0x00, 250}, model.KindUint16, BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Uint != 250 {
		t.Fatalf("expected 250, got %d", v.Uint)
	}
}
