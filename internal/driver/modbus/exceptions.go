package modbus

import (
	"errors"

	mb "github.com/goburrow/modbus"

	drv "github.com/pulseone-io/collector/internal/driver"
)

// mapModbusError translates a goburrow/modbus error into the shared
// ErrorCode taxonomy, grounded on edgeo-scada-modbus-tcp's errors.go
// exception vocabulary (exception codes 1-11) but re-expressed against
// this repo's ErrorCode instead of that repo's own ModbusError type, per
// spec.md §4.1.1:
//
//	exception 1/2/3 -> INVALID_ADDRESS
//	exception 4     -> DEVICE_ERROR
//	exception 5/6   -> DEVICE_BUSY
//	others          -> PROTOCOL_ERROR
func mapModbusError(err error) drv.ErrorCode {
	if err == nil {
		return drv.CodeSuccess
	}
	var me *mb.ModbusError
	if errors.As(err, &me) {
		switch me.ExceptionCode {
		case 1, 2, 3:
			return drv.CodeInvalidAddress
		case 4:
			return drv.CodeDeviceError
		case 5, 6:
			return drv.CodeDeviceBusy
		default:
			return drv.CodeProtocolError
		}
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "timeout", "i/o timeout", "deadline exceeded"):
		return drv.CodeConnectionTimeout
	case containsAny(msg, "connection refused", "no route to host", "broken pipe", "EOF", "use of closed"):
		return drv.CodeConnectionLost
	default:
		return drv.CodeProtocolError
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOfFold(s, sub) >= 0 {
			return true
		}
	}
	return false
}

// indexOfFold is a tiny ASCII case-insensitive substring search, avoiding
// a strings.ToLower allocation on every error check.
func indexOfFold(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			a, b := s[i+j], sub[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
