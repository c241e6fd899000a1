// Package engine implements the tiered sensor-data storage engine used by
// an embedded telemetry gateway to buffer time-series and event records
// between sensor sampling paths and a set of remote-upload consumers.
//
// The Engine holds a fixed-size pool of fixed-size sectors in RAM. Sensors
// thread sectors into singly-linked chains, with the chain pointers kept in
// a side table rather than inside the sectors themselves, so the sector
// payload stays at full density. Once RAM occupancy crosses a configured
// watermark, new writes are routed directly to disk; RAM data already
// buffered is left alone and drained in order by readers. Multiple upload
// consumers read the same per-sensor stream independently, each with its
// own cursor, pending count, and disk position.
//
// # Quick Start
//
//	eng, err := engine.Init(engine.Config{
//		PoolSize:     2048,
//		DiskRoot:     "/var/lib/gateway/buffer",
//		DiskByteCap:  256 * 1024 * 1024,
//		WatermarkPct: 80,
//		Consumers:    []string{"primary", "archive"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Shutdown()
//
//	eng.ConfigureSensor(7, engine.KindTSD, 1000)
//	eng.WriteTSD(7, 1234)
//
//	rec, err := eng.ReadNext(0, 7)
package engine
