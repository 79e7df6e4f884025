package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/repository"
	cachesink "github.com/pulseone-io/collector/internal/sink/cache"
)

func newTestFactory(t *testing.T) (*Factory, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "factory_test.sqlite")
	repo, err := repository.Open(dbPath)
	if err != nil {
		t.Fatalf("Open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	f := New(repo, driver.DefaultConfigRegistry(), cachesink.New(), nil, "")
	return f, dbPath
}

// seedDevice opens its own GORM connection against the same SQLite
// file to insert a device row, mirroring how a test would seed fixture
// rows directly via the teacher's own GORM models.
func seedDevice(t *testing.T, dbPath string, row repository.DeviceRow) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed device %s: %v", row.ID, err)
	}
}

func TestCreateWorker_UnrecognizedProtocol_NotImplemented(t *testing.T) {
	t.Parallel()
	f, dbPath := newTestFactory(t)
	ctx := context.Background()
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-1", Name: "Unknown", Protocol: "SOMETHING_ELSE", Endpoint: "x", Enabled: true})

	_, err := f.CreateWorker(ctx, "dev-1")
	if err == nil {
		t.Fatal("expected error for unrecognized protocol")
	}
	derr, ok := err.(*driver.Error)
	if !ok || derr.Code != driver.CodeNotImplemented {
		t.Fatalf("expected CodeNotImplemented, got %v", err)
	}
}

func TestCreateWorker_MissingRequiredMQTTKey_ConfigurationError(t *testing.T) {
	t.Parallel()
	f, dbPath := newTestFactory(t)
	ctx := context.Background()
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-2", Name: "Sensor", Protocol: "MQTT", Endpoint: "", Enabled: true})

	_, err := f.CreateWorker(ctx, "dev-2")
	if err == nil {
		t.Fatal("expected configuration error for missing broker_url")
	}
	derr, ok := err.(*driver.Error)
	if !ok || derr.Code != driver.CodeConfigurationError {
		t.Fatalf("expected CodeConfigurationError, got %v", err)
	}
}

func TestCreateWorker_ModbusTCP_BuildsWorker(t *testing.T) {
	t.Parallel()
	f, dbPath := newTestFactory(t)
	ctx := context.Background()
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-3", Name: "PLC", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.1:502", Enabled: true})

	w, err := f.CreateWorker(ctx, "dev-3")
	if err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	if w.DeviceID() != "dev-3" {
		t.Fatalf("unexpected device id: %s", w.DeviceID())
	}
}

func TestCreateAllActiveWorkers_SkipsFailuresAndContinues(t *testing.T) {
	t.Parallel()
	f, dbPath := newTestFactory(t)
	ctx := context.Background()

	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-good", Name: "Good", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.2:502", Enabled: true})
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-bad", Name: "Bad", Protocol: "MQTT", Endpoint: "", Enabled: true})
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-disabled", Name: "Off", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.3:502", Enabled: false})

	workers, errs := f.CreateAllActiveWorkers(ctx)
	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 error, got %d: %v", len(errs), errs)
	}
	if _, ok := workers["dev-good"]; !ok {
		t.Fatal("expected dev-good worker to be built")
	}
	if _, ok := workers["dev-bad"]; ok {
		t.Fatal("did not expect dev-bad worker")
	}
	if _, ok := workers["dev-disabled"]; ok {
		t.Fatal("did not expect disabled device worker")
	}
}

func TestReloadRegistry_PicksUpOverlaidRequiredKey(t *testing.T) {
	t.Parallel()
	f, dbPath := newTestFactory(t)
	ctx := context.Background()
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-overlay", Name: "PLC", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.4:502", Enabled: true})

	// Before any overlay, MODBUS_TCP has no required keys beyond its
	// defaults, so CreateWorker succeeds.
	if _, err := f.CreateWorker(ctx, "dev-overlay"); err != nil {
		t.Fatalf("CreateWorker before overlay: %v", err)
	}

	overlayPath := filepath.Join(t.TempDir(), "protocols.yaml")
	overlay := "MODBUS_TCP:\n  unit_tag:\n    type: string\n    required: true\n"
	if err := os.WriteFile(overlayPath, []byte(overlay), 0644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	f.schemaPath = overlayPath

	if err := f.ReloadRegistry(); err != nil {
		t.Fatalf("ReloadRegistry: %v", err)
	}

	_, err := f.CreateWorker(ctx, "dev-overlay")
	if err == nil {
		t.Fatal("expected configuration error for missing overlaid required key")
	}
	derr, ok := err.(*driver.Error)
	if !ok || derr.Code != driver.CodeConfigurationError {
		t.Fatalf("expected CodeConfigurationError, got %v", err)
	}
}
