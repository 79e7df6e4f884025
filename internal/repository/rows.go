// Package repository is the read-only facade over the configuration
// store spec.md §6 describes (devices, data_points, device_settings,
// current_values), generalizing the teacher's two parallel DB layers —
// internal/db/orm.go (gorm.io/gorm + gorm.io/driver/sqlite) and
// internal/db/sqlite.go (raw database/sql + modernc.org/sqlite) — by
// keeping both rather than picking one: GORM owns schema migration and
// the config-table reads, raw SQL owns the current_values hot-path read.
package repository

import "time"

// DeviceRow is the GORM row for the devices table, adapted from the
// teacher's internal/model.Server/Device split (one server owning many
// devices) collapsed into spec.md §3's single flat Device, since the
// spec has no concept of a server grouping multiple devices.
type DeviceRow struct {
	ID       string `gorm:"column:id;primaryKey"`
	Name     string `gorm:"column:name"`
	Protocol string `gorm:"column:protocol_type"`
	Endpoint string `gorm:"column:endpoint"`
	Enabled  bool   `gorm:"column:enabled"`
}

func (DeviceRow) TableName() string { return "devices" }

// DataPointRow is the GORM row for data_points, adapted from the
// teacher's internal/model.PointValue (address/register_type/data_type/
// scale/offset/unit) generalized with the range, writable, logging and
// protocol-parameter fields spec.md §3 adds.
type DataPointRow struct {
	ID                string  `gorm:"column:id;primaryKey"`
	DeviceID          string  `gorm:"column:device_id;index"`
	Name              string  `gorm:"column:name"`
	Address           uint32  `gorm:"column:address"`
	AddressString     string  `gorm:"column:address_string"`
	DataType          string  `gorm:"column:data_type"`
	Unit              string  `gorm:"column:unit"`
	ScalingFactor     float64 `gorm:"column:scaling_factor;default:1"`
	ScalingOffset     float64 `gorm:"column:scaling_offset;default:0"`
	MinValue          float64 `gorm:"column:min_value"`
	MaxValue          float64 `gorm:"column:max_value"`
	HasRange          bool    `gorm:"column:has_range"`
	IsEnabled         bool    `gorm:"column:is_enabled"`
	IsWritable        bool    `gorm:"column:is_writable"`
	LogEnabled        bool    `gorm:"column:log_enabled"`
	LogIntervalMs     int     `gorm:"column:log_interval_ms"`
	LogDeadband       float64 `gorm:"column:log_deadband"`
	PollGroup         string  `gorm:"column:poll_group"`
	ProtocolParamsJSON string `gorm:"column:protocol_params_json"`
}

func (DataPointRow) TableName() string { return "data_points" }

// DeviceSettingsRow is the GORM row for device_settings, adapted from
// the teacher's Server.Timeout/RetryCount/PollInterval fields (which
// were string-typed durations) into the millisecond-int fields spec.md
// §3 specifies.
type DeviceSettingsRow struct {
	DeviceID          string `gorm:"column:device_id;primaryKey"`
	ConnectTimeoutMs  int    `gorm:"column:connect_timeout_ms"`
	ReadTimeoutMs     int    `gorm:"column:read_timeout_ms"`
	RetryCount        int    `gorm:"column:max_retry_count"`
	RetryIntervalMs   int    `gorm:"column:retry_interval_ms"`
	BackoffTimeMs     int    `gorm:"column:backoff_time_ms"`
	KeepAliveEnabled  bool   `gorm:"column:keep_alive_enabled"`
	PollingIntervalMs int    `gorm:"column:polling_interval_ms"`
}

func (DeviceSettingsRow) TableName() string { return "device_settings" }

// currentValueRow is the raw-SQL row shape for current_values, adapted
// from the teacher's internal/db.DevicePoint/PointLatest raw-query rows
// (same device_id + value + timestamp read shape, generalized from a
// float64-only value column to the JSON-encoded DataValue spec.md §6's
// current_values.current_value_json column holds).
type currentValueRow struct {
	PointID   string
	ValueJSON string
	Quality   string
	Timestamp time.Time
	ReadCount uint64
}
