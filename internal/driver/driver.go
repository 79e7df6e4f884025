// Package driver defines the ProtocolDriver contract shared by every
// transport implementation (Modbus, MQTT, BACnet/IP) per spec.md §4.1,
// generalizing the teacher's ad hoc handlerWithConn interface
// (internal/collector/client.go) and jduranf-device-sdk-go's
// models.ProtocolDriver into one shared, typed contract.
package driver

import (
	"context"

	"github.com/pulseone-io/collector/internal/model"
)

// Status is the driver-level connection status, distinct from the
// Worker's own state machine (spec.md §4.2) — a driver only ever
// reports whether its transport is usable.
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusError        Status = "ERROR"
	StatusDisconnected Status = "DISCONNECTED"
)

// ProtocolDriver is the capability trait every transport implements.
// Worker owns exactly one Driver instance exclusively; Drivers must
// never call back into their owning Worker synchronously (spec.md §5).
type ProtocolDriver interface {
	// Initialize is idempotent and parses cfg.Properties using the
	// registry for this driver's protocol tag.
	Initialize(cfg model.DriverConfig) error

	// Connect must be callable from any state; if already connected it
	// returns success without reconnecting, and must never block longer
	// than cfg.TimeoutMs plus a small slack.
	Connect(ctx context.Context) error

	Disconnect(ctx context.Context) error

	IsConnected() bool

	// ReadValues reads a heterogeneous batch. The returned slice has the
	// same length as points, in the same order; per-point failure is
	// expressed via Quality != good on that slot, never by aborting the
	// whole batch.
	ReadValues(ctx context.Context, points []model.DataPoint) ([]model.TimestampedValue, error)

	// WriteValue is synchronous and returns only after the remote ack or
	// timeout.
	WriteValue(ctx context.Context, point model.DataPoint, value model.DataValue) error

	ProtocolType() model.ProtocolTag

	Status() Status

	LastError() error

	Statistics() Snapshot

	ResetStatistics()
}

// PointAwareDriver is implemented by drivers that must learn their
// DataPoints before Connect — MQTT needs every point's topic to build
// its subscription list (spec.md §4.1.2). The Worker Factory
// type-asserts ProtocolDriver against this interface after Initialize
// and calls RegisterPoints when present; drivers that resolve
// addresses per-call (Modbus, BACnet) don't implement it.
type PointAwareDriver interface {
	RegisterPoints(points []model.DataPoint)
}

// COVAwareDriver is implemented by drivers that support per-point COV
// (change-of-value) subscription, currently only BACnet/IP. The
// Worker's poll scheduler type-asserts ProtocolDriver against this
// interface and skips IsCOVSubscribed points from its read batch, per
// spec.md §4.1.3.
type COVAwareDriver interface {
	IsCOVSubscribed(pointID string) bool
}

// PropertySpec describes one recognized DriverConfig.properties key for a
// protocol: its expected type, default, and whether it is required.
type PropertySpec struct {
	Type     string // "string" | "int" | "bool" | "float"
	Default  string
	Required bool
}

// ProtocolSchema is the set of recognized keys for one protocol tag.
type ProtocolSchema map[string]PropertySpec

// ConfigRegistry describes, per protocol tag, the recognized
// DriverConfig.properties keys, their types, defaults and required flags.
type ConfigRegistry struct {
	schemas map[model.ProtocolTag]ProtocolSchema
}

// NewConfigRegistry builds a registry from the given per-protocol schemas.
func NewConfigRegistry(schemas map[model.ProtocolTag]ProtocolSchema) *ConfigRegistry {
	return &ConfigRegistry{schemas: schemas}
}

// Schema returns the schema for a protocol tag, or (nil, false) if the
// protocol is unrecognized.
func (r *ConfigRegistry) Schema(tag model.ProtocolTag) (ProtocolSchema, bool) {
	s, ok := r.schemas[tag]
	return s, ok
}

// ApplyDefaults overlays the registry's defaults under any values already
// present in props, per Worker Factory step 4(a).
func (r *ConfigRegistry) ApplyDefaults(tag model.ProtocolTag, props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	if schema, ok := r.schemas[tag]; ok {
		for key, spec := range schema {
			if spec.Default != "" {
				out[key] = spec.Default
			}
		}
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}

// Validate checks that every required key for tag is present in props and
// that values are not empty when required. It returns a *Error with
// CodeConfigurationError naming the offending key on the first failure,
// per spec.md §4.1 ("Unknown required keys ⇒ CONFIGURATION_ERROR").
func (r *ConfigRegistry) Validate(tag model.ProtocolTag, props map[string]string) error {
	schema, ok := r.schemas[tag]
	if !ok {
		return New(CodeNotImplemented, "registry.Validate", nil)
	}
	for key, spec := range schema {
		if !spec.Required {
			continue
		}
		if v, present := props[key]; !present || v == "" {
			return New(CodeConfigurationError, "registry.Validate", nil).WithKey(key)
		}
	}
	return nil
}

// DefaultConfigRegistry is the registry shipped by this engine, naming
// the recognized keys for each built-in protocol.
func DefaultConfigRegistry() *ConfigRegistry {
	return NewConfigRegistry(map[model.ProtocolTag]ProtocolSchema{
		model.ProtocolModbusTCP: {
			"byte_order":              {Type: "string", Default: "big_endian"},
			"max_registers_per_group": {Type: "int", Default: "125"},
			"slave_id":                {Type: "int", Default: "1"},
		},
		model.ProtocolModbusRTU: {
			"byte_order":              {Type: "string", Default: "big_endian"},
			"max_registers_per_group": {Type: "int", Default: "125"},
			"slave_id":                {Type: "int", Default: "1"},
			"baud_rate":               {Type: "int", Default: "9600"},
			"data_bits":               {Type: "int", Default: "8"},
			"stop_bits":               {Type: "int", Default: "1"},
			"parity":                  {Type: "string", Default: "N"},
		},
		model.ProtocolMQTT: {
			"broker_url": {Type: "string", Required: true},
			"client_id":  {Type: "string"},
			"qos":        {Type: "int", Default: "0"},
		},
		model.ProtocolBACnetIP: {
			"device_instance_min": {Type: "int", Default: "0"},
			"device_instance_max": {Type: "int", Default: "4194303"},
			"port":                {Type: "int", Default: "47808"},
		},
	})
}
