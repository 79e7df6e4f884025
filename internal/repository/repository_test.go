package repository

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "repository_test.sqlite")
	repo, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestFindDevice_RoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	row := DeviceRow{ID: "dev-1", Name: "Pump 1", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.5:502", Enabled: true}
	if err := repo.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}

	got, err := repo.FindDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindDevice: %v", err)
	}
	if got.Name != "Pump 1" || string(got.Protocol) != "MODBUS_TCP" || !got.Enabled {
		t.Fatalf("unexpected device: %+v", got)
	}
}

func TestFindSettings_FallsBackToDefaults(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	settings, err := repo.FindSettings(ctx, "no-such-device")
	if err != nil {
		t.Fatalf("FindSettings: %v", err)
	}
	if settings.PollingIntervalMs != 1000 {
		t.Fatalf("expected default polling interval 1000, got %d", settings.PollingIntervalMs)
	}
}

func TestFindDataPointsForDevice_DecodesProtocolParams(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	row := DataPointRow{
		ID: "p1", DeviceID: "dev-1", Name: "temp", DataType: "float32",
		IsEnabled: true, ProtocolParamsJSON: `{"register_type":"holding_register","slave_id":"3"}`,
	}
	if err := repo.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		t.Fatalf("seed data point: %v", err)
	}

	points, err := repo.FindDataPointsForDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindDataPointsForDevice: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if v, _ := points[0].Param("slave_id"); v != "3" {
		t.Fatalf("expected slave_id=3 from protocol_params_json, got %q", v)
	}
}

func TestFindCurrentValues_EmptyWithoutRows(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	out, err := repo.FindCurrentValues(context.Background(), []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("FindCurrentValues: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no rows, got %d", len(out))
	}
}
