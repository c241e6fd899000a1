// SPDX-License-Identifier: MPL-2.0

package engine

import "testing"

func TestShutdownThenRecovery(t *testing.T) {
	// S5: pool_size=4, watermark=50, 20 TSD writes on sensor 7.
	diskRoot := t.TempDir()

	eng, err := Init(Config{PoolSize: 4, DiskRoot: diskRoot, WatermarkPct: 50, Consumers: []string{"c0"}, PreserveDiskOnShutdown: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := eng.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 20; v++ {
		if err := eng.WriteTSD(7, v); err != nil {
			t.Fatalf("WriteTSD(%d): %v", v, err)
		}
	}
	if err := eng.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	eng2, err := Init(Config{PoolSize: 4, DiskRoot: diskRoot, WatermarkPct: 50, Consumers: []string{"c0"}})
	if err != nil {
		t.Fatalf("Init (recovery): %v", err)
	}
	if err := eng2.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor (recovery): %v", err)
	}

	avail, err := eng2.AvailableCount(0, 7)
	if err != nil {
		t.Fatalf("AvailableCount: %v", err)
	}
	if avail != 20 {
		t.Fatalf("AvailableCount after recovery = %d, want 20", avail)
	}

	var out [20]Record
	n, err := eng2.ReadBulk(0, 7, out[:], 20)
	if err != nil {
		t.Fatalf("ReadBulk: %v", err)
	}
	if n != 20 {
		t.Fatalf("ReadBulk returned %d, want 20", n)
	}
	for i, rec := range out[:n] {
		if rec.Value != int32(i) {
			t.Fatalf("record[%d].Value = %d, want %d", i, rec.Value, i)
		}
	}
}

func TestRecoveryIdempotence(t *testing.T) {
	diskRoot := t.TempDir()

	eng, err := Init(Config{PoolSize: 4, DiskRoot: diskRoot, WatermarkPct: 50, Consumers: []string{"c0"}, PreserveDiskOnShutdown: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := eng.ConfigureSensor(7, KindEVT, 0); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 6; v++ {
		if err := eng.WriteEVT(7, v, int64(v)*1000); err != nil {
			t.Fatalf("WriteEVT(%d): %v", v, err)
		}
	}
	if err := eng.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	eng2, err := Init(Config{PoolSize: 4, DiskRoot: diskRoot, WatermarkPct: 50, Consumers: []string{"c0"}})
	if err != nil {
		t.Fatalf("Init #1: %v", err)
	}
	if err := eng2.ConfigureSensor(7, KindEVT, 0); err != nil {
		t.Fatalf("ConfigureSensor #1: %v", err)
	}
	first, err := eng2.AvailableCount(0, 7)
	if err != nil {
		t.Fatalf("AvailableCount #1: %v", err)
	}

	eng3, err := Init(Config{PoolSize: 4, DiskRoot: diskRoot, WatermarkPct: 50, Consumers: []string{"c0"}})
	if err != nil {
		t.Fatalf("Init #2: %v", err)
	}
	if err := eng3.ConfigureSensor(7, KindEVT, 0); err != nil {
		t.Fatalf("ConfigureSensor #2: %v", err)
	}
	second, err := eng3.AvailableCount(0, 7)
	if err != nil {
		t.Fatalf("AvailableCount #2: %v", err)
	}

	if first != second {
		t.Fatalf("available_count differs across successive init() calls: %d vs %d", first, second)
	}
}

func TestPreserveDiskOnShutdownFalseErasesData(t *testing.T) {
	diskRoot := t.TempDir()

	eng, err := Init(Config{
		PoolSize:               4,
		DiskRoot:               diskRoot,
		WatermarkPct:           50,
		Consumers:              []string{"c0"},
		PreserveDiskOnShutdown: false,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := eng.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 20; v++ {
		if err := eng.WriteTSD(7, v); err != nil {
			t.Fatalf("WriteTSD(%d): %v", v, err)
		}
	}
	if err := eng.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	eng2, err := Init(Config{PoolSize: 4, DiskRoot: diskRoot, WatermarkPct: 50, Consumers: []string{"c0"}})
	if err != nil {
		t.Fatalf("Init (recovery): %v", err)
	}
	if err := eng2.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor (recovery): %v", err)
	}
	avail, err := eng2.AvailableCount(0, 7)
	if err != nil {
		t.Fatalf("AvailableCount: %v", err)
	}
	if avail != 0 {
		t.Fatalf("AvailableCount after erase-on-shutdown recovery = %d, want 0", avail)
	}
}
