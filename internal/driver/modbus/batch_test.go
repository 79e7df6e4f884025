package modbus

import (
	"testing"

	"github.com/pulseone-io/collector/internal/model"
)

func holdingPoint(id string, addr uint32, kind model.DataKind) model.DataPoint {
	return model.DataPoint{
		ID: id, Address: addr, DataType: kind, Enabled: true,
		ProtocolParams: map[string]string{"register_type": "holding_register", "slave_id": "1"},
	}
}

// TestPlanRequests_ContiguousRun covers P1: one contiguous run of N
// uint16 points becomes exactly one request when N <= G.
func TestPlanRequests_ContiguousRun(t *testing.T) {
	points := []model.DataPoint{
		holdingPoint("a", 40001, model.KindUint16),
		holdingPoint("b", 40002, model.KindUint16),
	}
	plans, err := planRequests(points, 1, 125)
	if err != nil {
		t.Fatalf("planRequests: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 request, got %d", len(plans))
	}
	if plans[0].quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", plans[0].quantity)
	}
}

// TestPlanRequests_Gap ensures a gap in the address space produces two
// maximal runs -> two requests.
func TestPlanRequests_Gap(t *testing.T) {
	points := []model.DataPoint{
		holdingPoint("a", 100, model.KindUint16),
		holdingPoint("b", 101, model.KindUint16),
		holdingPoint("c", 200, model.KindUint16),
	}
	plans, err := planRequests(points, 1, 125)
	if err != nil {
		t.Fatalf("planRequests: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 requests for a gapped address space, got %d", len(plans))
	}
}

// TestPlanRequests_TruncatedByMaxGroup covers the "truncated to length <=
// G" half of P1: a 300-register contiguous run with G=125 must split
// into 3 requests (125, 125, 50).
func TestPlanRequests_TruncatedByMaxGroup(t *testing.T) {
	points := make([]model.DataPoint, 300)
	for i := range points {
		points[i] = holdingPoint("p", uint32(i), model.KindUint16)
		points[i].ID = string(rune('a' + i%26))
	}
	plans, err := planRequests(points, 1, 125)
	if err != nil {
		t.Fatalf("planRequests: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("expected 3 requests (125+125+50), got %d", len(plans))
	}
	total := 0
	for _, p := range plans {
		if p.quantity > 125 {
			t.Fatalf("request exceeds max_registers_per_group: %d", p.quantity)
		}
		total += int(p.quantity)
	}
	if total != 300 {
		t.Fatalf("expected total register span 300, got %d", total)
	}
}

// TestPlanRequests_SeparateSlavesAndTypes ensures distinct (slave,
// register_type) pairs never share a request even at adjacent addresses.
func TestPlanRequests_SeparateSlavesAndTypes(t *testing.T) {
	p1 := holdingPoint("a", 0, model.KindUint16)
	p2 := holdingPoint("b", 1, model.KindUint16)
	p2.ProtocolParams["slave_id"] = "2"
	p3 := model.DataPoint{
		ID: "c", Address: 0, DataType: model.KindBool, Enabled: true,
		ProtocolParams: map[string]string{"register_type": "coil", "slave_id": "1"},
	}
	plans, err := planRequests([]model.DataPoint{p1, p2, p3}, 1, 125)
	if err != nil {
		t.Fatalf("planRequests: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("expected 3 separate requests, got %d", len(plans))
	}
}

func TestPlanRequests_DisabledPointsExcluded(t *testing.T) {
	p1 := holdingPoint("a", 0, model.KindUint16)
	p2 := holdingPoint("b", 1, model.KindUint16)
	p2.Enabled = false
	plans, err := planRequests([]model.DataPoint{p1, p2}, 1, 125)
	if err != nil {
		t.Fatalf("planRequests: %v", err)
	}
	if len(plans) != 1 || plans[0].quantity != 1 {
		t.Fatalf("expected a single-register request excluding the disabled point, got %+v", plans)
	}
}
