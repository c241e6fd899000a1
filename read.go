// read.go: Read Path — read_next, read_bulk, peek, ack_all_pending, revert_pending
//
// SPDX-License-Identifier: MPL-2.0

package engine

import "io"

// sectorStartOffset is the first valid record-start byte offset within a
// freshly-seated sector: 8 for TSD (past the first_utc_ms anchor), 0 for
// EVT (no anchor).
func sectorStartOffset(kind SectorKind) int {
	if kind == KindTSD {
		return 8
	}
	return 0
}

func sectorCapacityBytes(kind SectorKind) int {
	if kind == KindTSD {
		return 8 + TSDValuesPerSector*4
	}
	return EVTPairsPerSector * 12
}

func recordSizeBytes(kind SectorKind) int {
	if kind == KindTSD {
		return 4
	}
	return 12
}

// nextRAMRecord produces the next RAM record for cs, advancing its
// read cursor by one record and crossing to the next chain sector when
// the current one is exhausted. Returns (Record{}, false) when the
// consumer has caught up to the sensor's current write position.
// Must be called with scb.lock held.
func (e *Engine) nextRAMRecord(scb *SCB, cs *consumerState) (Record, bool) {
	if cs.readCursor.sector == NilSector {
		if scb.head == NilSector {
			return Record{}, false
		}
		cs.readCursor = cursor{sector: scb.head, offset: sectorStartOffset(scb.kind)}
	}

	sector := cs.readCursor.sector
	offset := cs.readCursor.offset
	if offset >= sectorCapacityBytes(scb.kind) && sector != scb.tail {
		// The sector was the tail when this cursor reached its end; the
		// chain has grown since, so continue in the next sector.
		next := e.chain.Next(sector)
		if next == NilSector {
			return Record{}, false
		}
		sector, offset = next, sectorStartOffset(scb.kind)
		cs.readCursor = cursor{sector: sector, offset: offset}
	}

	limit := sectorCapacityBytes(scb.kind)
	if sector == scb.tail {
		limit = scb.writeOffsetTail
	}
	if offset >= limit {
		return Record{}, false
	}

	payload := e.pool.payload(sector)
	var rec Record
	rec.Sensor = scb.id
	if scb.kind == KindTSD {
		idx := (offset - 8) / 4
		rec.Value = tsdValueAt(payload, idx)
		rec.UTCMs = tsdTimestampAt(payload, idx, scb.samplePeriodMs)
	} else {
		idx := offset / 12
		rec.Value = evtValueAt(payload, idx)
		rec.UTCMs = evtUTCAt(payload, idx)
	}
	offset += recordSizeBytes(scb.kind)

	fullCap := sectorCapacityBytes(scb.kind)
	if offset >= fullCap && sector != scb.tail {
		next := e.chain.Next(sector)
		if next == NilSector {
			cs.readCursor = cursor{sector: NilSector, drained: true}
		} else {
			cs.readCursor = cursor{sector: next, offset: sectorStartOffset(scb.kind)}
		}
	} else {
		cs.readCursor.offset = offset
	}
	return rec, true
}

// readOneInto tries RAM first (it holds the oldest data), then the
// consumer's disk stream. Must be called with scb.lock held.
func (e *Engine) readOneInto(scb *SCB, consumer ConsumerID, cs *consumerState) (Record, error) {
	if rec, ok := e.nextRAMRecord(scb, cs); ok {
		return rec, nil
	}

	tag, err := e.ConsumerTag(consumer)
	if err != nil {
		return Record{}, err
	}
	rec, next, err := e.disk.ReadRecord(tag, scb.id, cs.diskCursor, scb.samplePeriodMs)
	cs.diskCursor = next
	if err == io.EOF {
		return Record{}, ErrEmpty
	}
	if err != nil {
		e.emit(Event{Kind: EventDiskDegraded, Sensor: scb.id, Err: err, Message: "disk read failed"})
		return Record{}, err
	}
	return rec, nil
}

func (e *Engine) consumerStateOrErr(scb *SCB, consumer ConsumerID) (*consumerState, error) {
	if int(consumer) < 0 || int(consumer) >= len(scb.consumers) {
		return nil, ErrUnknownConsumer
	}
	return &scb.consumers[consumer], nil
}

// ReadNext returns the next record for a consumer on a sensor, or
// ErrEmpty if it has caught up (spec.md §4.9).
func (e *Engine) ReadNext(consumer ConsumerID, sensor SensorID) (Record, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return Record{}, err
	}

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	if !scb.active {
		return Record{}, ErrChainCorrupt
	}
	cs, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return Record{}, err
	}

	if cs.pendingCnt == 0 {
		cs.pendingFromRAM = cs.readCursor
		cs.pendingFromDisk = cs.diskCursor
	}

	rec, err := e.readOneInto(scb, consumer, cs)
	if err != nil {
		return Record{}, err
	}
	cs.pendingCnt++
	return rec, nil
}

// ReadBulk fills out with up to n records under a single lock
// acquisition, without per-record pending-state bookkeeping. Returns the
// number of records filled.
func (e *Engine) ReadBulk(consumer ConsumerID, sensor SensorID, out []Record, n int) (int, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, err
	}

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	if !scb.active {
		return 0, ErrChainCorrupt
	}
	cs, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return 0, err
	}

	if cs.pendingCnt == 0 {
		cs.pendingFromRAM = cs.readCursor
		cs.pendingFromDisk = cs.diskCursor
	}

	limit := n
	if limit > len(out) {
		limit = len(out)
	}

	count := 0
	for count < limit {
		rec, err := e.readOneInto(scb, consumer, cs)
		if err == ErrEmpty {
			break
		}
		if err != nil {
			cs.pendingCnt += uint32(count)
			return count, err
		}
		out[count] = rec
		count++
	}
	cs.pendingCnt += uint32(count)
	return count, nil
}

// Peek returns the k-th (0-indexed) record the consumer would next see,
// without mutating its cursor or pending state.
func (e *Engine) Peek(consumer ConsumerID, sensor SensorID, k int) (Record, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return Record{}, err
	}

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	if !scb.active {
		return Record{}, ErrChainCorrupt
	}
	orig, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return Record{}, err
	}
	sim := *orig

	var rec Record
	for i := 0; i <= k; i++ {
		rec, err = e.readOneInto(scb, consumer, &sim)
		if err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// freeAckedRAM frees every sector from scb.head up to the most
// conservative protected boundary across all consumers: a sector may be
// freed only once every consumer's pending_start has moved past it
// (spec.md invariant 6). Pointers are relinked before the sector backing
// them is freed, satisfying the defensive order spec.md §5 mandates.
func (e *Engine) freeAckedRAM(scb *SCB) {
	protected := make(map[SectorID]bool, len(scb.consumers))
	hardBlock := false
	for i := range scb.consumers {
		sector := scb.consumers[i].pendingFromRAM.sector
		if sector == NilSector {
			if scb.head != NilSector {
				// This consumer has never read anything while data
				// exists; nothing from head onward may be freed yet.
				hardBlock = true
			}
			continue
		}
		protected[sector] = true
	}
	if hardBlock {
		return
	}

	cur := scb.head
	for cur != NilSector {
		if protected[cur] {
			break
		}
		next := e.chain.Next(cur)
		scb.head = next
		e.chain.freeWithPool(e.pool, cur)
		cur = next
	}
	if scb.head == NilSector {
		scb.tail = NilSector
	}
}

// AckAllPending acknowledges every record the consumer has read on this
// sensor since its last ack or revert: frees any RAM sectors every
// consumer has now moved past, and deletes any disk files now entirely
// behind this consumer's cursor (spec.md §4.9).
func (e *Engine) AckAllPending(consumer ConsumerID, sensor SensorID) error {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return err
	}

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	cs, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return err
	}

	cs.pendingFromRAM = cs.readCursor
	cs.pendingFromDisk = cs.diskCursor
	cs.pendingCnt = 0

	e.freeAckedRAM(scb)

	tag, err := e.ConsumerTag(consumer)
	if err != nil {
		return err
	}
	upTo := cs.diskCursor.seq
	if err := e.disk.deleteFilesBefore(tag, sensor, upTo); err != nil {
		e.emit(Event{Kind: EventDiskDegraded, Sensor: sensor, Err: err, Message: "ack file cleanup failed"})
		return err
	}
	return nil
}

// RevertPending rewinds a consumer's cursor to where its current pending
// batch began, so the next reads redeliver it.
func (e *Engine) RevertPending(consumer ConsumerID, sensor SensorID) error {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return err
	}

	scb.lockWithClock(e.clock)
	defer scb.unlock()

	cs, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return err
	}
	cs.readCursor = cs.pendingFromRAM
	cs.diskCursor = cs.pendingFromDisk
	cs.pendingCnt = 0
	return nil
}

// PendingCount returns the number of records read but not yet
// acknowledged for a consumer on a sensor.
func (e *Engine) PendingCount(consumer ConsumerID, sensor SensorID) (uint32, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, err
	}
	scb.lockWithClock(e.clock)
	defer scb.unlock()
	cs, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return 0, err
	}
	return cs.pendingCnt, nil
}

// AvailableCount returns the number of RAM+disk records still ahead of a
// consumer's read cursor for a sensor.
func (e *Engine) AvailableCount(consumer ConsumerID, sensor SensorID) (uint64, error) {
	scb, err := e.scbOrErr(sensor)
	if err != nil {
		return 0, err
	}
	scb.lockWithClock(e.clock)
	defer scb.unlock()
	cs, err := e.consumerStateOrErr(scb, consumer)
	if err != nil {
		return 0, err
	}

	var count uint64
	if scb.head != NilSector {
		sector := cs.readCursor.sector
		offset := cs.readCursor.offset
		if sector == NilSector {
			sector = scb.head
			offset = sectorStartOffset(scb.kind)
		}
		recSize := recordSizeBytes(scb.kind)
		for sector != NilSector {
			limit := sectorCapacityBytes(scb.kind)
			if sector == scb.tail {
				limit = scb.writeOffsetTail
			}
			if offset < limit {
				count += uint64((limit - offset) / recSize)
			}
			if sector == scb.tail {
				break
			}
			sector = e.chain.Next(sector)
			offset = sectorStartOffset(scb.kind)
		}
	}

	tag, err := e.ConsumerTag(consumer)
	if err != nil {
		return 0, err
	}
	diskCount, err := e.disk.CountRemaining(tag, sensor, cs.diskCursor)
	if err != nil {
		return count, err
	}
	return count + diskCount, nil
}
