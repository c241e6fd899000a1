// diskbuffer.go: per-sensor staging buffer for direct-to-disk writes
//
// SPDX-License-Identifier: MPL-2.0

package engine

// diskBuffer accumulates up to one sector's worth of record data before
// it is committed as a disk block. Disk files store whole sector-sized
// blocks (spec.md §4.6), so a direct-to-disk write that doesn't yet fill
// a full TSD sector (6 values) or EVT sector (2 pairs) has nowhere else
// to live in the interim. The buffer reuses the same 32-byte payload
// layout as an in-RAM sector (record.go) so flushing it is just writing
// those bytes out under a block header.
type diskBuffer struct {
	kind    SectorKind
	payload [SectorPayloadSize]byte
	count   int // values written (TSD) or pairs written (EVT)
}

func newDiskBuffer(kind SectorKind) *diskBuffer {
	return &diskBuffer{kind: kind}
}

// full reports whether the buffer holds a complete sector's worth.
func (b *diskBuffer) full() bool {
	if b.kind == KindEVT {
		return b.count >= EVTPairsPerSector
	}
	return b.count >= TSDValuesPerSector
}

// appendTSD stages one TSD value, returning true once the buffer fills
// and must be flushed.
func (b *diskBuffer) appendTSD(value int32, nowMs int64) bool {
	if b.count == 0 {
		tsdSetFirstUTC(b.payload[:], nowMs)
	}
	tsdSetValueAt(b.payload[:], b.count, value)
	b.count++
	return b.full()
}

// appendEVT stages one (value, utc_ms) pair, returning true once full.
func (b *diskBuffer) appendEVT(value int32, utcMs int64) bool {
	evtSetPairAt(b.payload[:], b.count, value, utcMs)
	b.count++
	return b.full()
}

// drain returns the staged payload and record count for a flush (full or
// partial, e.g. during shutdown) and resets the buffer to empty.
func (b *diskBuffer) drain() (payload [SectorPayloadSize]byte, count int) {
	payload, count = b.payload, b.count
	b.payload = [SectorPayloadSize]byte{}
	b.count = 0
	return payload, count
}

func (b *diskBuffer) empty() bool {
	return b.count == 0
}

// firstUTC reports the anchor timestamp for a TSD buffer, or the first
// pair's timestamp for an EVT buffer (used to populate the block header).
func (b *diskBuffer) firstUTC() int64 {
	if b.kind == KindTSD {
		return tsdFirstUTC(b.payload[:])
	}
	if b.count == 0 {
		return 0
	}
	return evtUTCAt(b.payload[:], 0)
}

// lastUTC reports the block header's last_utc_ms for the records staged
// so far.
func (b *diskBuffer) lastUTC(samplePeriodMs int64) int64 {
	if b.count == 0 {
		return 0
	}
	if b.kind == KindTSD {
		return tsdTimestampAt(b.payload[:], b.count-1, samplePeriodMs)
	}
	return evtUTCAt(b.payload[:], b.count-1)
}
