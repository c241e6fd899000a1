// policy.go: Tiered Policy Engine — pool occupancy watermark and
// threshold-crossing diagnostics
//
// SPDX-License-Identifier: MPL-2.0

package engine

// occupancyThresholds are the percentage marks the Tiered Policy Engine
// reports crossing, ascending, as pool occupancy grows (spec.md §4.5).
var occupancyThresholds = [...]int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// PoolOccupancyPercent returns the pool's current occupancy, 0-100.
func (e *Engine) PoolOccupancyPercent() int {
	size := e.pool.Size()
	if size == 0 {
		return 0
	}
	occupied := size - e.pool.CountFree()
	return occupied * 100 / size
}

// Tick recomputes pool occupancy and emits EventWatermarkCrossed once
// for each threshold newly crossed since the last call. Callers run this
// periodically (e.g. from a ticker in cmd/enginectl); it never blocks on
// a per-sensor lock, only the pool's own.
func (e *Engine) Tick() {
	pct := int64(e.PoolOccupancyPercent())
	last := e.lastOccupancyPct.Swap(pct)
	if pct <= last {
		return
	}
	for _, t := range occupancyThresholds {
		if last < t && pct >= t {
			e.emit(Event{Kind: EventWatermarkCrossed, Message: occupancyMessage(t)})
		}
	}
}

func occupancyMessage(t int64) string {
	switch t {
	case 100:
		return "sector pool fully occupied"
	default:
		return "sector pool occupancy crossed threshold"
	}
}
