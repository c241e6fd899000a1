// diagnostics.go: chain validation, lock-hold telemetry, and per-sensor
// record counts
//
// SPDX-License-Identifier: MPL-2.0

package engine

// ChainLength returns the number of sectors currently in a sensor's RAM
// chain.
func (e *Engine) ChainLength(sensor SensorID) (int, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, err
	}
	scb.lockWithClock(e.clock)
	defer scb.unlock()

	n := 0
	for cur := scb.head; cur != NilSector; cur = e.chain.Next(cur) {
		n++
	}
	return n, nil
}

// ValidateChain walks a sensor's chain, checking it against the three
// corruption signatures spec.md §4.2 names (cycle, freed-sector step,
// owner mismatch). On failure it quarantines the sensor: ReadNext,
// ReadBulk and Peek on it fail with ErrChainCorrupt until the process
// restarts. Writes, acks and reverts on a quarantined sensor are not
// rejected.
func (e *Engine) ValidateChain(sensor SensorID) error {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return err
	}
	scb.lockWithClock(e.clock)
	head, active := scb.head, scb.active
	scb.unlock()

	if !active {
		return ErrChainCorrupt
	}

	_, err = e.chain.Traverse(head, sensor, e.pool.Size())
	if err != nil {
		scb.lockWithClock(e.clock)
		scb.active = false
		scb.unlock()
		e.emit(Event{Kind: EventChainCorrupt, Sensor: sensor, Err: err, Message: "chain validation failed"})
		e.emit(Event{Kind: EventSensorQuarantined, Sensor: sensor, Message: "sensor quarantined after chain corruption"})
		return err
	}
	return nil
}

// LockHoldAgeMs reports how long, in milliseconds, a sensor's lock has
// been continuously held, or (0, false) if it is currently free. Exposed
// so an external watchdog can detect a stuck holder without itself
// blocking on the lock (spec.md §4.10).
func (e *Engine) LockHoldAgeMs(sensor SensorID) (int64, bool, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, false, err
	}
	age, held := scb.lockHoldAgeMs(e.clock)
	return age, held, nil
}

// RAMRecordCount returns the number of records currently held in a
// sensor's RAM chain (across all sectors, independent of any consumer's
// read progress).
func (e *Engine) RAMRecordCount(sensor SensorID) (int, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, err
	}
	scb.lockWithClock(e.clock)
	defer scb.unlock()

	recSize := recordSizeBytes(scb.kind)
	count := 0
	for cur := scb.head; cur != NilSector; cur = e.chain.Next(cur) {
		limit := sectorCapacityBytes(scb.kind)
		if cur == scb.tail {
			limit = scb.writeOffsetTail
		}
		count += (limit - sectorStartOffset(scb.kind)) / recSize
	}
	return count, nil
}

// DiskRecordCount returns the number of records currently on disk for a
// sensor under one consumer's directory, counted from the start of the
// lowest-sequence file regardless of that consumer's read position.
func (e *Engine) DiskRecordCount(consumer ConsumerID, sensor SensorID) (uint64, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, err
	}
	tag, err := e.ConsumerTag(consumer)
	if err != nil {
		return 0, err
	}

	scb.lockWithClock(e.clock)
	cur, err := e.disk.firstCursor(tag, sensor)
	scb.unlock()
	if err != nil {
		return 0, err
	}
	return e.disk.CountRemaining(tag, sensor, cur)
}
