// record.go: TSD/EVT record packing within a sector payload
//
// SPDX-License-Identifier: MPL-2.0

package engine

import "encoding/binary"

// TSDValuesPerSector is the number of 32-bit samples packed into one TSD
// sector: 8 bytes of first_utc_ms anchor + 6*4 bytes of values == 32.
const TSDValuesPerSector = 6

// EVTPairsPerSector is the number of (value, utc_ms) pairs packed into
// one EVT sector: 2*(4+8) == 24 bytes, 8 bytes reserved.
const EVTPairsPerSector = 2

// Record is a single decoded sample returned by the read path.
type Record struct {
	Value  int32
	UTCMs  int64
	Sensor SensorID
}

// tsdFirstUTC / tsdSetFirstUTC access the 8-byte anchor timestamp at the
// start of a TSD sector.
func tsdFirstUTC(payload []byte) int64 {
	return int64(binary.LittleEndian.Uint64(payload[0:8]))
}

func tsdSetFirstUTC(payload []byte, v int64) {
	binary.LittleEndian.PutUint64(payload[0:8], uint64(v))
}

// tsdValueAt / tsdSetValueAt access the i-th (0..5) 32-bit value.
func tsdValueAt(payload []byte, i int) int32 {
	off := 8 + i*4
	return int32(binary.LittleEndian.Uint32(payload[off : off+4]))
}

func tsdSetValueAt(payload []byte, i int, v int32) {
	off := 8 + i*4
	binary.LittleEndian.PutUint32(payload[off:off+4], uint32(v))
}

// tsdTimestampAt derives the i-th value's timestamp: the format stores
// only the sector anchor and the sample period, never a per-value
// timestamp (spec.md §3).
func tsdTimestampAt(payload []byte, i int, samplePeriodMs int64) int64 {
	return tsdFirstUTC(payload) + int64(i)*samplePeriodMs
}

// evtValueAt / evtUTCAt access the pair at index 0 or 1. Layout:
// bytes 0-3 value0, 4-11 utc0, 12-15 value1, 16-23 utc1, 24-31 reserved.
func evtValueAt(payload []byte, i int) int32 {
	off := i * 12
	return int32(binary.LittleEndian.Uint32(payload[off : off+4]))
}

func evtUTCAt(payload []byte, i int) int64 {
	off := i*12 + 4
	return int64(binary.LittleEndian.Uint64(payload[off : off+8]))
}

func evtSetPairAt(payload []byte, i int, value int32, utcMs int64) {
	off := i * 12
	binary.LittleEndian.PutUint32(payload[off:off+4], uint32(value))
	binary.LittleEndian.PutUint64(payload[off+4:off+12], uint64(utcMs))
}
