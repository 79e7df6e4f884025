package repository

import (
	"context"
	"encoding/json"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pulseone-io/collector/internal/model"
)

// openORM opens a GORM SQLite connection, grounded on the teacher's
// internal/db.openORM (gorm.Open + logger.Warn) unchanged in shape.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for the config-store tables exists,
// generalizing the teacher's migrateORM from its three Modbus-specific
// models to the three config-store tables (devices, data_points,
// device_settings); current_values is created by openCurrentValuesDB.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&DeviceRow{}, &DataPointRow{}, &DeviceSettingsRow{})
}

// FindDevice returns one Device by id.
func (r *Repository) FindDevice(ctx context.Context, deviceID string) (model.Device, error) {
	var row DeviceRow
	if err := r.gdb.WithContext(ctx).First(&row, "id = ?", deviceID).Error; err != nil {
		return model.Device{}, err
	}
	return deviceFromRow(row), nil
}

// FindAllDevices returns every Device, enabled or not, used by the
// Manager's StartAllActiveWorkers per spec.md §4.5; the Factory's
// CreateAllActiveWorkers skips the disabled ones.
func (r *Repository) FindAllDevices(ctx context.Context) ([]model.Device, error) {
	var rows []DeviceRow
	if err := r.gdb.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Device, len(rows))
	for i, row := range rows {
		out[i] = deviceFromRow(row)
	}
	return out, nil
}

// FindDataPointsForDevice returns every DataPoint belonging to a device.
func (r *Repository) FindDataPointsForDevice(ctx context.Context, deviceID string) ([]model.DataPoint, error) {
	var rows []DataPointRow
	if err := r.gdb.WithContext(ctx).Where("device_id = ?", deviceID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.DataPoint, len(rows))
	for i, row := range rows {
		out[i] = dataPointFromRow(row)
	}
	return out, nil
}

// FindSettings returns DeviceSettings for a device, falling back to
// model.DefaultDeviceSettings when no row exists, per Worker Factory
// step 2 (spec.md §4.4).
func (r *Repository) FindSettings(ctx context.Context, deviceID string) (model.DeviceSettings, error) {
	var row DeviceSettingsRow
	err := r.gdb.WithContext(ctx).First(&row, "device_id = ?", deviceID).Error
	if err == gorm.ErrRecordNotFound {
		return model.DefaultDeviceSettings(deviceID), nil
	}
	if err != nil {
		return model.DeviceSettings{}, err
	}
	return model.DeviceSettings{
		DeviceID:          row.DeviceID,
		ConnectTimeoutMs:  row.ConnectTimeoutMs,
		ReadTimeoutMs:     row.ReadTimeoutMs,
		RetryCount:        row.RetryCount,
		RetryIntervalMs:   row.RetryIntervalMs,
		BackoffTimeMs:     row.BackoffTimeMs,
		KeepAlive:         row.KeepAliveEnabled,
		PollingIntervalMs: row.PollingIntervalMs,
	}, nil
}

func deviceFromRow(row DeviceRow) model.Device {
	return model.Device{
		ID: row.ID, Name: row.Name, Protocol: model.ProtocolTag(row.Protocol),
		Endpoint: row.Endpoint, Enabled: row.Enabled,
	}
}

func dataPointFromRow(row DataPointRow) model.DataPoint {
	params := map[string]string{}
	if row.ProtocolParamsJSON != "" {
		_ = json.Unmarshal([]byte(row.ProtocolParamsJSON), &params)
	}
	return model.DataPoint{
		ID: row.ID, DeviceID: row.DeviceID, Name: row.Name,
		Address: row.Address, AddressString: row.AddressString,
		DataType: model.DataKind(row.DataType), Unit: row.Unit,
		ScaleFactor: row.ScalingFactor, ScaleOffset: row.ScalingOffset,
		MinValue: row.MinValue, MaxValue: row.MaxValue, HasRange: row.HasRange,
		Writable: row.IsWritable, Enabled: row.IsEnabled,
		LogEnabled: row.LogEnabled, LogIntervalMs: row.LogIntervalMs,
		LogDeadband: row.LogDeadband, PollGroup: row.PollGroup,
		ProtocolParams: params,
	}
}
