// write.go: Write Path — TSD, EVT, and GPS-correlated event writes
//
// SPDX-License-Identifier: MPL-2.0

package engine

import "fmt"

// writeTarget says where the next value/pair of a write call should go:
// the sensor's current RAM tail sector, or its per-sensor disk buffer.
type writeTarget int

const (
	targetRAM writeTarget = iota
	targetDisk
)

// containerFull reports whether the sensor's current RAM tail sector
// (if any) has no room left for one more value/pair.
func containerFull(scb *SCB, kind SectorKind) bool {
	if scb.tail == NilSector {
		return true
	}
	if kind == KindTSD {
		return scb.writeOffsetTail >= 8+TSDValuesPerSector*4
	}
	return scb.writeOffsetTail >= EVTPairsPerSector*12
}

// prepareWriteTarget ensures there is room for one more value in the
// sensor's active write container, growing the RAM chain or continuing
// an in-progress disk spill as the Tiered Policy Engine dictates. Must
// be called with scb.lock held.
func (e *Engine) prepareWriteTarget(scb *SCB, kind SectorKind, now int64) (writeTarget, error) {
	if !containerFull(scb, kind) {
		return targetRAM, nil
	}
	// A disk buffer with data already staged is filled to completion
	// before re-evaluating the watermark, so a single sector's worth of
	// data is never split across a RAM/disk boundary.
	if scb.diskBuf != nil && !scb.diskBuf.empty() {
		return targetDisk, nil
	}
	return e.growOrSpill(scb, kind, now)
}

// growOrSpill implements allocate_or_spill (spec.md §4.5): below the
// watermark, grow the sensor's RAM chain by one sector; at or above it,
// route new records to the sensor's disk buffer instead. Existing RAM
// data is never migrated here — only the shutdown path migrates RAM to
// disk (spec.md §9).
func (e *Engine) growOrSpill(scb *SCB, kind SectorKind, now int64) (writeTarget, error) {
	size := e.pool.Size()
	occupiedPct := int64(size-e.pool.CountFree()) * 100 / int64(size)

	if occupiedPct < e.watermarkPct.Load() {
		id, err := e.chain.allocateWithPool(e.pool, scb.id, kind, now)
		if err == nil {
			if scb.head == NilSector {
				scb.head = id
			} else {
				e.chain.SetNext(scb.tail, id)
			}
			scb.tail = id
			scb.writeOffsetTail = 0
			return targetRAM, nil
		}
		// Pool raced to empty despite the occupancy estimate; fall
		// through to disk rather than fail the write.
	}

	if scb.diskBuf == nil {
		scb.diskBuf = newDiskBuffer(kind)
	}
	return targetDisk, nil
}

// flushDiskBuffer commits the sensor's staged disk buffer — full or
// partial — as one block per consumer directory, then resets it empty.
func (e *Engine) flushDiskBuffer(scb *SCB) error {
	if scb.diskBuf == nil || scb.diskBuf.empty() {
		return nil
	}
	first := scb.diskBuf.firstUTC()
	last := scb.diskBuf.lastUTC(scb.samplePeriodMs)
	payload, count := scb.diskBuf.drain()

	for _, name := range e.consumerNames {
		if err := e.disk.WriteBlock(name, scb.id, scb.kind, count, first, last, payload[:]); err != nil {
			e.emit(Event{Kind: EventDiskDegraded, Sensor: scb.id, Err: err, Message: "disk buffer flush failed"})
			return err
		}
	}
	return nil
}

// WriteTSD appends one time-series value to the sensor's tail sector,
// spilling to disk once the pool is at or above the configured
// watermark (spec.md §4.3).
func (e *Engine) WriteTSD(sensor SensorID, value int32) error {
	if e.shuttingDown.Load() {
		return ErrShuttingDown
	}
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return err
	}
	if scb.kind != KindTSD {
		return fmt.Errorf("%w: sensor %d is not configured as TSD", ErrInvalidConfiguration, sensor)
	}

	now := e.clock.NowMillis()

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	target, err := e.prepareWriteTarget(scb, KindTSD, now)
	if err != nil {
		return err
	}

	scb.lastValue, scb.lastValueValid = value, true

	if target == targetDisk {
		if scb.diskBuf.appendTSD(value, now) {
			return e.flushDiskBuffer(scb)
		}
		return nil
	}

	payload := e.pool.payload(scb.tail)
	if scb.writeOffsetTail == 0 {
		tsdSetFirstUTC(payload, now)
		scb.writeOffsetTail = 8
	}
	idx := (scb.writeOffsetTail - 8) / 4
	tsdSetValueAt(payload, idx, value)
	scb.writeOffsetTail += 4
	return nil
}

// WriteEVT appends one (value, utc_ms) event pair to the sensor's tail
// sector, spilling to disk as §4.5 dictates. Like WriteTSD it takes no
// consumer: producers are consumer-agnostic.
func (e *Engine) WriteEVT(sensor SensorID, value int32, utcMs int64) error {
	if e.shuttingDown.Load() {
		return ErrShuttingDown
	}
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return err
	}
	if scb.kind != KindEVT {
		return fmt.Errorf("%w: sensor %d is not configured as EVT", ErrInvalidConfiguration, sensor)
	}

	now := e.clock.NowMillis()

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	target, err := e.prepareWriteTarget(scb, KindEVT, now)
	if err != nil {
		return err
	}

	scb.lastValue, scb.lastValueValid = value, true

	if target == targetDisk {
		if scb.diskBuf.appendEVT(value, utcMs) {
			return e.flushDiskBuffer(scb)
		}
		return nil
	}

	payload := e.pool.payload(scb.tail)
	idx := scb.writeOffsetTail / 12
	evtSetPairAt(payload, idx, value, utcMs)
	scb.writeOffsetTail += 12
	return nil
}

// lastReading returns the most recently written value for a sensor, for
// use by write_event_with_location's GPS-correlation join.
func (e *Engine) lastReading(sensor SensorID) (int32, bool) {
	scb, ok := e.sensors.get(sensor)
	if !ok {
		return 0, false
	}
	scb.lockWithClock(e.clock)
	v, valid := scb.lastValue, scb.lastValueValid
	scb.unlock()
	return v, valid
}

// WriteEventWithLocation samples utc_ms once and writes the primary
// event plus, for each location sensor configured via
// SetLocationSensors, that sensor's last known reading at the same
// timestamp — joinable on utc_ms (spec.md §4.4).
func (e *Engine) WriteEventWithLocation(consumer ConsumerID, sensor SensorID, value int32) error {
	now := e.clock.NowMillis()
	if err := e.WriteEVT(sensor, value, now); err != nil {
		return err
	}

	e.locMu.Lock()
	fix, ok := e.locFix[consumer]
	e.locMu.Unlock()
	if !ok {
		return nil
	}

	for _, locSensor := range []SensorID{fix.lat, fix.lon, fix.alt, fix.speed} {
		if locSensor == NilSensorID {
			continue
		}
		reading, valid := e.lastReading(locSensor)
		if !valid {
			continue
		}
		if err := e.WriteEVT(locSensor, reading, now); err != nil {
			return err
		}
	}
	return nil
}
