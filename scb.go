// scb.go: sensor control blocks and the sensor registry
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"sync"
	"sync/atomic"
)

// SensorID identifies a sensor. Small non-negative integer drawn from a
// statically-known, build-time enumeration per spec.md §3.
type SensorID int32

// NilSensorID marks an unset optional sensor slot, e.g. a location
// sensor that was never configured via SetLocationSensors.
const NilSensorID SensorID = -1

// ConsumerID identifies an upload destination. Index into Engine.consumerNames.
type ConsumerID int32

// cursor is a (sector, byte offset) position within a sensor's RAM chain,
// or the drained state once a consumer has read past the tail.
type cursor struct {
	sector  SectorID
	offset  int
	drained bool
}

// diskCursor is a (sequence, byte offset, record index) position within
// a consumer's on-disk file set for one sensor.
type diskCursor struct {
	seq         uint64
	fileOffset  int64
	recordIndex int
	drained     bool
}

// consumerState holds one consumer's independent view of a sensor's
// stream: its RAM read cursor, disk cursor, and pending-ack bookkeeping.
// spec.md §3 calls for K of these per sensor, K fixed at build time; we
// size the slice once at ConfigureSensor and never resize it.
type consumerState struct {
	readCursor      cursor
	diskCursor      diskCursor
	pendingCnt      uint32
	pendingFromRAM  cursor
	pendingFromDisk diskCursor
}

// SCB is the per-sensor Sensor Control Block: chain endpoints, the tail
// write offset, and one consumerState per configured consumer. lock
// guards every field below it, including the chain edges reachable from
// head (spec.md §5).
type SCB struct {
	lock sync.Mutex

	id             SensorID
	kind           SectorKind
	samplePeriodMs int64

	head, tail      SectorID
	writeOffsetTail int

	consumers []consumerState
	diskBuf   *diskBuffer

	lastValue      int32
	lastValueValid bool

	active bool // false once ChainCorrupt quarantines this sensor

	// lockTakenAtMs is 0 when `lock` is free, else the epoch-ms instant
	// it was acquired. Kept outside `lock` itself (atomic, not guarded
	// by the mutex) so an external watchdog can read lock-hold age
	// without contending on the very lock it is diagnosing.
	lockTakenAtMs atomic.Int64
}

// lockWithClock acquires the SCB lock and records the acquisition time
// for lock-hold-age diagnostics (spec.md §4.10).
func (s *SCB) lockWithClock(c *Clock) {
	s.lock.Lock()
	s.lockTakenAtMs.Store(c.NowMillis())
}

// unlock clears the lock-hold timestamp and releases the SCB lock.
func (s *SCB) unlock() {
	s.lockTakenAtMs.Store(0)
	s.lock.Unlock()
}

// lockHoldAgeMs reports how long, in milliseconds, the SCB lock has been
// held, or (0, false) if it is currently free. Safe to call while
// another goroutine holds the lock.
func (s *SCB) lockHoldAgeMs(c *Clock) (int64, bool) {
	taken := s.lockTakenAtMs.Load()
	if taken == 0 {
		return 0, false
	}
	age := c.NowMillis() - taken
	if age < 0 {
		age = 0
	}
	return age, true
}

// newSCB constructs an empty SCB for the given sensor/kind/period with
// one consumerState slot per configured consumer.
func newSCB(id SensorID, kind SectorKind, samplePeriodMs int64, numConsumers int) *SCB {
	s := &SCB{
		id:             id,
		kind:           kind,
		samplePeriodMs: samplePeriodMs,
		head:           NilSector,
		tail:           NilSector,
		consumers:      make([]consumerState, numConsumers),
		active:         true,
	}
	for i := range s.consumers {
		s.consumers[i].readCursor = cursor{sector: NilSector, drained: true}
		s.consumers[i].pendingFromRAM = cursor{sector: NilSector, drained: true}
		s.consumers[i].diskCursor = diskCursor{drained: true}
		s.consumers[i].pendingFromDisk = diskCursor{drained: true}
	}
	return s
}

// SensorRegistry holds every configured SCB, keyed by sensor id.
// configure_sensor is idempotent: re-registering the same id with the
// same parameters is a no-op, and Engine rejects a conflicting second
// registration.
type SensorRegistry struct {
	mu   sync.RWMutex
	scbs map[SensorID]*SCB
}

func NewSensorRegistry() *SensorRegistry {
	return &SensorRegistry{scbs: make(map[SensorID]*SCB)}
}

func (r *SensorRegistry) get(id SensorID) (*SCB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scbs[id]
	return s, ok
}

// configure registers a sensor, returning created=true only the first
// time id is registered — callers use that to run one-time, per-sensor
// setup (disk cursor recovery) without repeating it on every idempotent
// re-registration.
func (r *SensorRegistry) configure(id SensorID, kind SectorKind, samplePeriodMs int64, numConsumers int) (scb *SCB, created bool, err error) {
	if kind == KindTSD && samplePeriodMs <= 0 {
		return nil, false, ErrInvalidConfiguration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.scbs[id]; ok {
		if existing.kind != kind || existing.samplePeriodMs != samplePeriodMs {
			return nil, false, ErrInvalidConfiguration
		}
		return existing, false, nil
	}

	scb = newSCB(id, kind, samplePeriodMs, numConsumers)
	r.scbs[id] = scb
	return scb, true, nil
}

// all returns every registered SCB, used by diagnostics and shutdown to
// iterate sensors without holding the registry lock for the duration.
func (r *SensorRegistry) all() []*SCB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SCB, 0, len(r.scbs))
	for _, s := range r.scbs {
		out = append(out, s)
	}
	return out
}
