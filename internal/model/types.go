// Package model defines the shared data contracts that flow between the
// repository, drivers, pipeline, worker and sinks: Device, DataPoint,
// DeviceSettings, DriverConfig, TimestampedValue and CurrentValue.
package model

import "time"

// ProtocolTag identifies the wire protocol a Device speaks.
type ProtocolTag string

const (
	ProtocolModbusTCP ProtocolTag = "MODBUS_TCP"
	ProtocolModbusRTU ProtocolTag = "MODBUS_RTU"
	ProtocolMQTT      ProtocolTag = "MQTT"
	ProtocolBACnetIP  ProtocolTag = "BACNET_IP"
)

// Device is the identity of a physical endpoint. The engine is read-only
// with respect to it; rows are owned by the configuration store.
type Device struct {
	ID       string
	Name     string
	Protocol ProtocolTag
	Endpoint string
	Enabled  bool
}

// DeviceSettings holds per-device tunables. Zero values are invalid;
// Validate enforces the spec's invariants.
type DeviceSettings struct {
	DeviceID          string
	ConnectTimeoutMs  int
	ReadTimeoutMs     int
	RetryCount        int
	RetryIntervalMs   int
	BackoffTimeMs     int
	KeepAlive         bool
	PollingIntervalMs int
}

// Validate checks the invariants from spec.md §3: polling interval >= 100ms,
// timeouts > 0, retries >= 0.
func (s DeviceSettings) Validate() error {
	if s.PollingIntervalMs < 100 {
		return &InvalidSettingsError{Field: "polling_interval_ms", Reason: "must be >= 100"}
	}
	if s.ConnectTimeoutMs <= 0 {
		return &InvalidSettingsError{Field: "connect_timeout_ms", Reason: "must be > 0"}
	}
	if s.ReadTimeoutMs <= 0 {
		return &InvalidSettingsError{Field: "read_timeout_ms", Reason: "must be > 0"}
	}
	if s.RetryCount < 0 {
		return &InvalidSettingsError{Field: "retry_count", Reason: "must be >= 0"}
	}
	return nil
}

// InvalidSettingsError names the offending field, matching the error
// taxonomy's requirement to carry context alongside an error kind.
type InvalidSettingsError struct {
	Field  string
	Reason string
}

func (e *InvalidSettingsError) Error() string {
	return "device settings: " + e.Field + " " + e.Reason
}

// DefaultDeviceSettings synthesizes defaults when no DeviceSettings row
// exists for a device, per Worker Factory step 2.
func DefaultDeviceSettings(deviceID string) DeviceSettings {
	return DeviceSettings{
		DeviceID:          deviceID,
		ConnectTimeoutMs:  5000,
		ReadTimeoutMs:     3000,
		RetryCount:        3,
		RetryIntervalMs:   1000,
		BackoffTimeMs:     30000,
		KeepAlive:         true,
		PollingIntervalMs: 1000,
	}
}

// DataKind enumerates the DataPoint value types from spec.md §3.
type DataKind string

const (
	KindBool    DataKind = "bool"
	KindInt8    DataKind = "int8"
	KindInt16   DataKind = "int16"
	KindInt32   DataKind = "int32"
	KindInt64   DataKind = "int64"
	KindUint8   DataKind = "uint8"
	KindUint16  DataKind = "uint16"
	KindUint32  DataKind = "uint32"
	KindUint64  DataKind = "uint64"
	KindFloat32 DataKind = "float32"
	KindFloat64 DataKind = "float64"
	KindString  DataKind = "string"
	KindBytes   DataKind = "bytes"
)

// IsNumeric reports whether the kind participates in scaling, range
// checks and deadband comparison (step 2-3 of the pipeline).
func (k DataKind) IsNumeric() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64,
		KindUint8, KindUint16, KindUint32, KindUint64,
		KindFloat32, KindFloat64:
		return true
	default:
		return false
	}
}

// DataPoint is one addressable value on a device.
type DataPoint struct {
	ID             string
	DeviceID       string
	Name           string
	Address        uint32
	AddressString  string
	DataType       DataKind
	Unit           string
	ScaleFactor    float64
	ScaleOffset    float64
	MinValue       float64
	MaxValue       float64
	HasRange       bool
	Writable       bool
	Enabled        bool
	LogEnabled     bool
	LogIntervalMs  int
	LogDeadband    float64
	PollGroup      string
	ProtocolParams map[string]string
}

// Param returns a protocol-specific parameter, e.g. "register_type",
// "qos", "bacnet_object_type".
func (p DataPoint) Param(key string) (string, bool) {
	if p.ProtocolParams == nil {
		return "", false
	}
	v, ok := p.ProtocolParams[key]
	return v, ok
}

// DriverConfig is the immutable, merged view handed to a Driver at
// construction time by the Worker Factory.
type DriverConfig struct {
	DeviceID   string
	Endpoint   string
	TimeoutMs  int
	RetryCount int
	Properties map[string]string
}

// Prop returns a property with a fallback default.
func (c DriverConfig) Prop(key, def string) string {
	if v, ok := c.Properties[key]; ok {
		return v
	}
	return def
}

// Quality is a categorical tag on a reading expressing how much it
// should be trusted, per spec.md §3.
type Quality string

const (
	QualityGood          Quality = "good"
	QualityUncertain     Quality = "uncertain"
	QualityBad           Quality = "bad"
	QualityNotConnected  Quality = "not_connected"
	QualityDeviceFailure Quality = "device_failure"
	QualitySensorFailure Quality = "sensor_failure"
	QualityCommFailure   Quality = "comm_failure"
	QualityOutOfService  Quality = "out_of_service"
	QualityMaintenance   Quality = "maintenance"
)

// IsGood reports whether the reading should be trusted as-is.
func (q Quality) IsGood() bool { return q == QualityGood }

// DataValue is a small tagged union over the DataPoint data types. Only
// the field matching Kind is meaningful.
type DataValue struct {
	Kind  DataKind
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Str   string
	Bytes []byte
}

// Float64 returns the value as a float64 for numeric kinds, used by the
// pipeline's range/scale/deadband steps. ok is false for non-numeric kinds.
func (v DataValue) Float64() (float64, bool) {
	switch v.Kind {
	case KindFloat32, KindFloat64:
		return v.Float, true
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return float64(v.Int), true
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return float64(v.Uint), true
	default:
		return 0, false
	}
}

// Equal reports value equality used by change detection for booleans and
// strings (numeric equality goes through the deadband comparison instead).
func (v DataValue) Equal(o DataValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		if len(v.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	default:
		f1, _ := v.Float64()
		f2, _ := o.Float64()
		return f1 == f2
	}
}

// TimestampedValue is the pipeline quantum: one reading with quality and
// timing metadata.
type TimestampedValue struct {
	PointID          string
	Value            DataValue
	Quality          Quality
	QualityTimestamp time.Time
	SourceTimestamp  time.Time
	IngressTimestamp time.Time
	Changed          bool
	Simulated        bool
}

// CurrentValue is the latest TimestampedValue per DataPoint, as persisted
// by the cache sink.
type CurrentValue struct {
	PointID   string
	Value     TimestampedValue
	ReadCount uint64
}
