package modbus

import (
	"fmt"
	"sort"

	"github.com/pulseone-io/collector/internal/model"
)

// group is one (slave, register type) bucket of points awaiting batching.
type group struct {
	slave   uint8
	regType RegisterType
	points  []model.DataPoint
}

// requestPlan is one Modbus request: a contiguous address run covering
// one or more DataPoints.
type requestPlan struct {
	slave    uint8
	regType  RegisterType
	start    uint16
	quantity uint16
	points   []model.DataPoint // points covered by this request, in address order
}

// maxUnitsFor returns the per-request cap for a register type: 125
// registers (holding/input) or 2000 coils/discretes, further capped by
// the configured max_registers_per_group.
func maxUnitsFor(regType RegisterType, configuredMax int) uint16 {
	hardCap := 125
	if regType.IsBitType() {
		hardCap = 2000
	}
	if configuredMax > 0 && configuredMax < hardCap {
		hardCap = configuredMax
	}
	return uint16(hardCap)
}

func unitsOf(regType RegisterType, p model.DataPoint) uint16 {
	if regType.IsBitType() {
		return 1
	}
	return wordSpan(p.DataType)
}

// planRequests groups enabled DataPoints by (slave_id, register_type) and
// emits the minimum number of requests covering them, per spec.md P1:
// "the number of Modbus requests emitted for one poll cycle equals the
// number of maximal contiguous runs in the address space, each truncated
// to length ≤ G."
func planRequests(points []model.DataPoint, defaultSlave uint8, configuredMax int) ([]requestPlan, error) {
	groups := map[string]*group{}
	order := make([]string, 0)
	for _, p := range points {
		if !p.Enabled {
			continue
		}
		rt, err := registerTypeOf(p)
		if err != nil {
			return nil, err
		}
		slave := slaveIDOf(p, defaultSlave)
		key := groupKey(slave, rt)
		g, ok := groups[key]
		if !ok {
			g = &group{slave: slave, regType: rt}
			groups[key] = g
			order = append(order, key)
		}
		g.points = append(g.points, p)
	}

	var plans []requestPlan
	for _, key := range order {
		g := groups[key]
		sort.Slice(g.points, func(i, j int) bool { return g.points[i].Address < g.points[j].Address })
		max := maxUnitsFor(g.regType, configuredMax)

		// Partition into maximal contiguous/overlapping runs first.
		var runs [][]model.DataPoint
		var cur []model.DataPoint
		var curEnd uint16
		for _, p := range g.points {
			addr := uint16(p.Address)
			end := addr + unitsOf(g.regType, p)
			if len(cur) == 0 || addr <= curEnd {
				cur = append(cur, p)
				if end > curEnd {
					curEnd = end
				}
				continue
			}
			runs = append(runs, cur)
			cur = []model.DataPoint{p}
			curEnd = end
		}
		if len(cur) > 0 {
			runs = append(runs, cur)
		}

		// Split each run into chunks no longer than max units.
		for _, run := range runs {
			chunkStart := uint16(run[0].Address)
			chunkEnd := chunkStart
			chunkPoints := []model.DataPoint{}
			flushChunk := func() {
				if len(chunkPoints) == 0 {
					return
				}
				plans = append(plans, requestPlan{
					slave: g.slave, regType: g.regType,
					start: chunkStart, quantity: chunkEnd - chunkStart,
					points: append([]model.DataPoint(nil), chunkPoints...),
				})
			}
			for _, p := range run {
				addr := uint16(p.Address)
				end := addr + unitsOf(g.regType, p)
				if len(chunkPoints) > 0 && end-chunkStart > max {
					flushChunk()
					chunkStart = addr
					chunkPoints = nil
				}
				chunkPoints = append(chunkPoints, p)
				if end > chunkEnd || len(chunkPoints) == 1 {
					chunkEnd = end
				}
			}
			flushChunk()
		}
	}
	return plans, nil
}

func groupKey(slave uint8, rt RegisterType) string {
	return fmt.Sprintf("%d/%s", slave, rt)
}
