// engine.go: Engine construction, sensor registration, and the public API
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Event is a diagnostic notification delivered to Config.OnEvent:
// watermark threshold crossings, disk errors, and chain-corruption
// escalations. Mirrors the teacher's ErrorCallback(operation, err)
// shape, generalized to carry an event kind and optional sensor.
type Event struct {
	Kind    EventKind
	Sensor  SensorID
	Message string
	Err     error
}

// EventKind enumerates the diagnostic events the Tiered Policy Engine
// and Read Path can raise.
type EventKind int

const (
	EventWatermarkCrossed EventKind = iota
	EventDiskDegraded
	EventChainCorrupt
	EventSensorQuarantined
)

// locationFix holds the location sensor ids (lat, lon, alt, speed)
// configured for a consumer's GPS-correlated event group (spec.md §4.4).
type locationFix struct {
	lat, lon, alt, speed SensorID
}

// Engine is the tiered sensor-data storage engine. One instance is
// constructed at Init and threaded through the life of the process
// (spec.md §9: "no lazy globals").
type Engine struct {
	cfg Config

	pool    *Pool
	chain   *ChainTable
	sensors *SensorRegistry
	disk    *DiskStore
	clock   *Clock

	consumerNames []string
	consumerIdx   map[string]ConsumerID

	locMu  sync.Mutex
	locFix map[ConsumerID]locationFix

	shuttingDown atomic.Bool

	watermarkPct     atomic.Int64
	lastOccupancyPct atomic.Int64
}

// Init constructs an Engine and returns a ready-to-use handle. It does not
// scan the disk: each consumer's disk cursor is seeded when a sensor is
// first registered (see ConfigureSensor), and no block-header validation
// or quarantine pass runs at startup.
func Init(cfg Config) (*Engine, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	idx := make(map[string]ConsumerID, len(cfg.Consumers))
	for i, name := range cfg.Consumers {
		if _, dup := idx[name]; dup {
			return nil, fmt.Errorf("%w: duplicate consumer name %q", ErrInvalidConfiguration, name)
		}
		idx[name] = ConsumerID(i)
	}

	eng := &Engine{
		cfg:           cfg,
		pool:          NewPool(cfg.PoolSize),
		chain:         NewChainTable(cfg.PoolSize),
		sensors:       NewSensorRegistry(),
		disk:          NewDiskStore(cfg.DiskRoot, cfg.FileRotationBytes, cfg.DiskByteCap),
		clock:         NewClock(),
		consumerNames: append([]string(nil), cfg.Consumers...),
		consumerIdx:   idx,
		locFix:        make(map[ConsumerID]locationFix),
	}
	eng.watermarkPct.Store(int64(cfg.WatermarkPct))

	return eng, nil
}

// NumConsumers returns the fixed, build-time consumer count K.
func (e *Engine) NumConsumers() int {
	return len(e.consumerNames)
}

// ConsumerTag returns the directory-safe name for a consumer id.
func (e *Engine) ConsumerTag(c ConsumerID) (string, error) {
	if int(c) < 0 || int(c) >= len(e.consumerNames) {
		return "", ErrUnknownConsumer
	}
	return e.consumerNames[c], nil
}

// ConfigureSensor registers a sensor (idempotent). kind must be KindTSD
// or KindEVT; samplePeriodMs is required (>0) for KindTSD and ignored
// for KindEVT.
//
// A sensor's on-disk data predates any in-process registration of it —
// the directories survive process restarts even though the SCB does not
// — so the first time a sensor id is registered, every consumer's disk
// cursor is seeded from that consumer's own surviving directory
// (spec.md §4.8 startup recovery). Re-registration is a no-op and never
// re-seeds an already-advanced cursor.
func (e *Engine) ConfigureSensor(id SensorID, kind SectorKind, samplePeriodMs int64) error {
	scb, created, err := e.sensors.configure(id, kind, samplePeriodMs, e.NumConsumers())
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	scb.lockWithClock(e.clock)
	defer scb.unlock()
	for ci, tag := range e.consumerNames {
		cur, err := e.disk.firstCursor(tag, id)
		if err != nil {
			return err
		}
		scb.consumers[ci].diskCursor = cur
		scb.consumers[ci].pendingFromDisk = cur
	}
	return nil
}

// SetLocationSensors enables write_event_with_location for a consumer's
// GPS-correlated recording: a write to the primary sensor is joined
// with a same-timestamp write to each of lat/lon/alt/speed.
func (e *Engine) SetLocationSensors(consumer ConsumerID, lat, lon, alt, speed SensorID) {
	e.locMu.Lock()
	e.locFix[consumer] = locationFix{lat: lat, lon: lon, alt: alt, speed: speed}
	e.locMu.Unlock()
}

// emit delivers a diagnostic event if Config.OnEvent was set.
func (e *Engine) emit(ev Event) {
	if e.cfg.OnEvent != nil {
		e.cfg.OnEvent(ev)
	}
}

// scbOrErr fetches a sensor's control block or ErrUnknownSensor.
func (e *Engine) scbOrErr(id SensorID) (*SCB, error) {
	scb, ok := e.sensors.get(id)
	if !ok {
		return nil, ErrUnknownSensor
	}
	return scb, nil
}

// Reconfigure adjusts the Tiered Policy Engine's live-tunable thresholds.
// It never changes pool geometry: pool size is fixed for the life of the
// Engine (spec.md §4.1), so only the watermark percentage and byte cap
// may be changed here. Wired to the optional argus-driven config watch
// in cmd/enginectl.
func (e *Engine) Reconfigure(watermarkPct int, diskByteCap int64) error {
	if watermarkPct <= 0 || watermarkPct > 100 {
		return fmt.Errorf("%w: watermark_pct %d out of range", ErrInvalidConfiguration, watermarkPct)
	}
	e.watermarkPct.Store(int64(watermarkPct))
	if diskByteCap > 0 {
		e.disk.mu.Lock()
		e.disk.byteCap = diskByteCap
		e.disk.mu.Unlock()
	}
	return nil
}
