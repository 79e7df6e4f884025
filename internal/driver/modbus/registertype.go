package modbus

import (
	"strconv"
	"strings"

	"github.com/pulseone-io/collector/internal/model"
)

// RegisterType selects the Modbus function code for a DataPoint, per
// spec.md §4.1.1: register_type ∈ {coil, discrete_input,
// holding_register, input_register}.
type RegisterType string

const (
	RegisterCoil            RegisterType = "coil"
	RegisterDiscreteInput   RegisterType = "discrete_input"
	RegisterHoldingRegister RegisterType = "holding_register"
	RegisterInputRegister   RegisterType = "input_register"
)

// IsBitType reports whether the register type is bit-addressed (coil,
// discrete input) rather than word-addressed.
func (r RegisterType) IsBitType() bool {
	return r == RegisterCoil || r == RegisterDiscreteInput
}

func registerTypeOf(p model.DataPoint) (RegisterType, error) {
	raw, ok := p.Param("register_type")
	if !ok || raw == "" {
		return "", &unsupportedRegisterTypeError{raw: raw}
	}
	switch RegisterType(strings.ToLower(raw)) {
	case RegisterCoil:
		return RegisterCoil, nil
	case RegisterDiscreteInput:
		return RegisterDiscreteInput, nil
	case RegisterHoldingRegister:
		return RegisterHoldingRegister, nil
	case RegisterInputRegister:
		return RegisterInputRegister, nil
	default:
		return "", &unsupportedRegisterTypeError{raw: raw}
	}
}

type unsupportedRegisterTypeError struct{ raw string }

func (e *unsupportedRegisterTypeError) Error() string {
	return "unsupported register_type: " + e.raw
}

func slaveIDOf(p model.DataPoint, def uint8) uint8 {
	raw, ok := p.Param("slave_id")
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return def
	}
	return uint8(v)
}

// wordSpan returns how many 16-bit registers a DataPoint occupies, used
// for both contiguous-run grouping and decode.
func wordSpan(k model.DataKind) uint16 {
	switch k {
	case model.KindBool, model.KindInt8, model.KindUint8,
		model.KindInt16, model.KindUint16:
		return 1
	case model.KindInt32, model.KindUint32, model.KindFloat32:
		return 2
	case model.KindInt64, model.KindUint64, model.KindFloat64:
		return 4
	default:
		return 1
	}
}
