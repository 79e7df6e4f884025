package modbus

import (
	"context"
	"testing"
	"time"

	"github.com/pulseone-io/collector/internal/driver/modbus/testserver"
	"github.com/pulseone-io/collector/internal/model"
)

// TestDriverReadWriteAgainstRealServer exercises Connect/ReadValues/
// WriteValue against a real TCP listener instead of a mock
// ClientHandler, grounding spec.md §8's P1 (batching: two contiguous
// holding registers in one read) end to end rather than unit-by-unit.
// No scaling is involved, so P2 is not exercised here.
func TestDriverReadWriteAgainstRealServer(t *testing.T) {
	srv := testserver.NewServer()
	if err := srv.Listen("127.0.0.1:15502"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	if err := srv.SetHoldingRegister(0, 250); err != nil {
		t.Fatal(err)
	}
	if err := srv.SetHoldingRegister(1, 1013); err != nil {
		t.Fatal(err)
	}

	d := New(model.ProtocolModbusTCP)
	cfg := model.DriverConfig{
		Endpoint:  "127.0.0.1:15502",
		TimeoutMs: 2000,
		Properties: map[string]string{
			"slave_id":   "1",
			"byte_order": "big_endian",
		},
	}
	if err := d.Initialize(cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Disconnect(ctx)

	points := []model.DataPoint{
		{ID: "p1", Address: 0, DataType: model.KindInt16, Enabled: true, ProtocolParams: map[string]string{"register_type": "holding_register"}},
		{ID: "p2", Address: 1, DataType: model.KindInt16, Enabled: true, ProtocolParams: map[string]string{"register_type": "holding_register"}},
	}

	values, err := d.ReadValues(ctx, points)
	if err != nil {
		t.Fatalf("read_values: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if values[0].Quality != model.QualityGood || values[0].Value.Int != 250 {
		t.Fatalf("p1: unexpected %+v", values[0])
	}
	if values[1].Quality != model.QualityGood || values[1].Value.Int != 1013 {
		t.Fatalf("p2: unexpected %+v", values[1])
	}

	writable := model.DataPoint{ID: "p1", Address: 0, DataType: model.KindInt16, ProtocolParams: map[string]string{"register_type": "holding_register"}}
	if err := d.WriteValue(ctx, writable, model.DataValue{Kind: model.KindInt16, Int: 777}); err != nil {
		t.Fatalf("write_value: %v", err)
	}
	got, err := testserver.GetHoldingRegister(srv, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 777 {
		t.Fatalf("expected register 0 = 777 after write, got %d", got)
	}
}
