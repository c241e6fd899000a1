// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"sync"
	"testing"
	"time"
)

// TestScenarioTSDOrderingThroughSpillBoundary is S1: with pool_size=4 and
// watermark_pct=50, the watermark is reached after 2 of the 4 sectors are
// allocated, so the back three quarters of a 48-value run are written
// direct-to-disk. The order of the returned values must be unaffected by
// the RAM/disk boundary; timestamps are not checked here.
func TestScenarioTSDOrderingThroughSpillBoundary(t *testing.T) {
	eng := newTestEngine(t, 4, 50)
	if err := eng.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 48; v++ {
		if err := eng.WriteTSD(7, v); err != nil {
			t.Fatalf("WriteTSD(%d): %v", v, err)
		}
	}

	var out [48]Record
	n, err := eng.ReadBulk(0, 7, out[:], 48)
	if err != nil {
		t.Fatalf("ReadBulk: %v", err)
	}
	if n != 48 {
		t.Fatalf("ReadBulk returned %d, want 48", n)
	}
	for i, rec := range out[:n] {
		if rec.Value != int32(i) {
			t.Fatalf("record[%d].Value = %d, want %d", i, rec.Value, i)
		}
	}
}

// TestScenarioEVTLocationCorrelation is S4: a single
// write_event_with_location call produces five records (primary + four
// location sensors) that all carry the same utc_ms.
func TestScenarioEVTLocationCorrelation(t *testing.T) {
	eng := newTestEngine(t, 16, 80)
	for _, id := range []SensorID{10, 11, 12, 13, 14} {
		if err := eng.ConfigureSensor(id, KindEVT, 0); err != nil {
			t.Fatalf("ConfigureSensor(%d): %v", id, err)
		}
	}
	eng.SetLocationSensors(0, 11, 12, 13, 14)

	// Seed each location sensor with its known reading so
	// write_event_with_location has something to correlate.
	readings := map[SensorID]int32{11: 421, 12: -710, 13: 120, 14: 152}
	for id, v := range readings {
		if err := eng.WriteEVT(id, v, 0); err != nil {
			t.Fatalf("seed WriteEVT(%d): %v", id, err)
		}
	}

	if err := eng.WriteEventWithLocation(0, 10, 99); err != nil {
		t.Fatalf("WriteEventWithLocation: %v", err)
	}

	primary, err := eng.ReadNext(0, 10)
	if err != nil {
		t.Fatalf("ReadNext(10): %v", err)
	}
	if primary.Value != 99 {
		t.Fatalf("primary.Value = %d, want 99", primary.Value)
	}

	for id, want := range readings {
		if _, err := eng.ReadNext(0, id); err != nil { // drain the seed record
			t.Fatalf("ReadNext(%d) seed: %v", id, err)
		}
		rec, err := eng.ReadNext(0, id)
		if err != nil {
			t.Fatalf("ReadNext(%d): %v", id, err)
		}
		if rec.Value != want {
			t.Fatalf("sensor %d value = %d, want %d", id, rec.Value, want)
		}
		if rec.UTCMs != primary.UTCMs {
			t.Fatalf("sensor %d utc_ms = %d, want %d (same as primary)", id, rec.UTCMs, primary.UTCMs)
		}
	}
}

// TestScenarioCrossSensorCorruptionRegression is a scaled-down S6:
// concurrent writers on two distinct sensors plus a concurrent acker must
// never produce a cross-sensor chain edge.
func TestScenarioCrossSensorCorruptionRegression(t *testing.T) {
	eng := newTestEngine(t, 64, 70)
	if err := eng.ConfigureSensor(7, KindTSD, 1); err != nil {
		t.Fatalf("ConfigureSensor(7): %v", err)
	}
	if err := eng.ConfigureSensor(8, KindTSD, 1); err != nil {
		t.Fatalf("ConfigureSensor(8): %v", err)
	}

	const writesPerSensor = 2000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < writesPerSensor; i++ {
			_ = eng.WriteTSD(7, int32(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < writesPerSensor; i++ {
			_ = eng.WriteTSD(8, int32(i))
		}
	}()
	go func() {
		defer wg.Done()
		for time.Now().Before(deadline) {
			_ = eng.AckAllPending(0, 7)
			_ = eng.AckAllPending(0, 8)
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()

	if err := eng.ValidateChain(7); err != nil {
		t.Fatalf("ValidateChain(7): %v", err)
	}
	if err := eng.ValidateChain(8); err != nil {
		t.Fatalf("ValidateChain(8): %v", err)
	}
}
