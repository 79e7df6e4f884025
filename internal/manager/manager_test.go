package manager

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/factory"
	"github.com/pulseone-io/collector/internal/repository"
	cachesink "github.com/pulseone-io/collector/internal/sink/cache"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "manager_test.sqlite")
	repo, err := repository.Open(dbPath)
	if err != nil {
		t.Fatalf("Open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	f := factory.New(repo, driver.DefaultConfigRegistry(), cachesink.New(), nil, "")
	m := New(f, cachesink.New(), 2*time.Second)
	return m, dbPath
}

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

func TestManager_StartWorker_RegistersAndCounts(t *testing.T) {
	t.Parallel()
	m, dbPath := newTestManager(t)
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-1", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.1:502", Enabled: true})

	if err := m.StartWorker(context.Background(), "dev-1"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	snapshot, counters := m.Snapshot()
	if len(snapshot) != 1 || snapshot[0].DeviceID != "dev-1" {
		t.Fatalf("expected one registered worker, got %+v", snapshot)
	}
	if counters.Started != 1 {
		t.Fatalf("expected started=1, got %d", counters.Started)
	}
}

func TestManager_StartWorker_UnknownDeviceReturnsErrorAndCountsFailure(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	if err := m.StartWorker(context.Background(), "no-such-device"); err == nil {
		t.Fatal("expected error for unknown device")
	}
	_, counters := m.Snapshot()
	if counters.Errors != 1 {
		t.Fatalf("expected errors=1, got %d", counters.Errors)
	}
}

func TestManager_StopWorker_Unregisters(t *testing.T) {
	t.Parallel()
	m, dbPath := newTestManager(t)
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-2", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.2:502", Enabled: true})

	if err := m.StartWorker(context.Background(), "dev-2"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	if err := m.StopWorker("dev-2"); err != nil {
		t.Fatalf("StopWorker: %v", err)
	}
	snapshot, counters := m.Snapshot()
	if len(snapshot) != 0 {
		t.Fatalf("expected no registered workers after stop, got %+v", snapshot)
	}
	if counters.Stopped != 1 {
		t.Fatalf("expected stopped=1, got %d", counters.Stopped)
	}
}

func TestManager_StopWorker_UnknownDeviceIsNoop(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	if err := m.StopWorker("never-started"); err != nil {
		t.Fatalf("expected nil error for unknown device, got %v", err)
	}
}

func TestManager_StartAllActiveWorkers_StartsOnlyEnabled(t *testing.T) {
	t.Parallel()
	m, dbPath := newTestManager(t)
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-a", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.3:502", Enabled: true})
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-b", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.4:502", Enabled: false})

	errs := m.StartAllActiveWorkers(context.Background())
	if len(errs) != 0 {
		t.Fatalf("expected no factory errors, got %v", errs)
	}
	snapshot, _ := m.Snapshot()
	if len(snapshot) != 1 || snapshot[0].DeviceID != "dev-a" {
		t.Fatalf("expected only dev-a registered, got %+v", snapshot)
	}
}

func TestManager_Snapshot_ConcurrentSafe(t *testing.T) {
	t.Parallel()
	m, dbPath := newTestManager(t)
	seedDevice(t, dbPath, repository.DeviceRow{ID: "dev-c", Protocol: "MODBUS_TCP", Endpoint: "10.0.0.5:502", Enabled: true})
	if err := m.StartWorker(context.Background(), "dev-c"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Snapshot()
		}()
	}
	wg.Wait()
}
