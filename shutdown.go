// shutdown.go: signal handling and graceful shutdown flush. Startup
// recovery of per-consumer disk cursors happens in engine.go's
// ConfigureSensor, the first point at which a sensor id (and therefore
// its on-disk directories) is known to the running process.
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalHandlers registers a minimal SIGTERM/SIGINT handler that
// only flips the shutting-down flag — per spec.md §9 the handler itself
// must not perform I/O. The returned stop func cancels the handler and
// should be deferred by callers (mirrors cmd/enginectl's usage).
func (e *Engine) InstallSignalHandlers() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			e.shuttingDown.Store(true)
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(ch)
	}
}

// Shutdown drains every sensor's RAM chain to disk in chain order, flushes
// any partially-filled disk buffer, closes and fsyncs every open disk
// file, and then applies the configured preserve-vs-erase policy
// (spec.md §4.8, §9). Safe to call once; a second call is a no-op beyond
// re-closing already-closed files.
func (e *Engine) Shutdown() error {
	e.shuttingDown.Store(true)

	for _, scb := range e.sensors.all() {
		if err := e.drainSensorToDisk(scb); err != nil {
			e.emit(Event{Kind: EventDiskDegraded, Sensor: scb.id, Err: err, Message: "shutdown drain failed"})
			return err
		}
	}

	if err := e.disk.CloseAll(); err != nil {
		e.emit(Event{Kind: EventDiskDegraded, Err: err, Message: "shutdown close failed"})
		return err
	}

	if !e.cfg.PreserveDiskOnShutdown {
		if err := e.disk.EraseAll(); err != nil {
			return err
		}
	}
	return nil
}

// drainSensorToDisk migrates a sensor's entire RAM chain into its disk
// buffer, oldest sector first, then flushes the buffer — the only point
// in the engine's lifetime where RAM data is migrated to disk rather than
// new writes merely being routed there (spec.md §4.5, §9).
//
// RAM always holds the sensor's oldest records; anything already staged
// in disk_buffer from an earlier direct-to-disk spill is newer. That
// partial buffer is flushed as its own block first, so RAM data is never
// appended behind it — appending in place would reorder records and
// hand the combined block a timestamp anchor inherited from the newer,
// misplaced values (spec.md §4.8: shutdown must not reorder).
func (e *Engine) drainSensorToDisk(scb *SCB) error {
	scb.lockWithClock(e.clock)
	defer scb.unlock()

	if err := e.flushDiskBuffer(scb); err != nil {
		return err
	}
	if scb.diskBuf == nil {
		scb.diskBuf = newDiskBuffer(scb.kind)
	}

	cur := scb.head
	for cur != NilSector {
		payload := e.pool.payload(cur)
		limit := sectorCapacityBytes(scb.kind)
		if cur == scb.tail {
			limit = scb.writeOffsetTail
		}

		offset := sectorStartOffset(scb.kind)
		recSize := recordSizeBytes(scb.kind)
		for offset+recSize <= limit {
			if scb.kind == KindTSD {
				idx := (offset - 8) / 4
				v := tsdValueAt(payload, idx)
				t := tsdTimestampAt(payload, idx, scb.samplePeriodMs)
				if scb.diskBuf.appendTSD(v, t) {
					if err := e.flushDiskBuffer(scb); err != nil {
						return err
					}
				}
			} else {
				idx := offset / 12
				v := evtValueAt(payload, idx)
				t := evtUTCAt(payload, idx)
				if scb.diskBuf.appendEVT(v, t) {
					if err := e.flushDiskBuffer(scb); err != nil {
						return err
					}
				}
			}
			offset += recSize
		}

		next := e.chain.Next(cur)
		e.chain.freeWithPool(e.pool, cur)
		cur = next
	}
	scb.head, scb.tail, scb.writeOffsetTail = NilSector, NilSector, 0

	return e.flushDiskBuffer(scb)
}
