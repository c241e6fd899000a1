// SPDX-License-Identifier: MPL-2.0

package engine

import "testing"

func TestReadNextReturnsErrEmptyWhenCaughtUp(t *testing.T) {
	eng := newTestEngine(t, 4, 80)
	if err := eng.ConfigureSensor(1, KindEVT, 0); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	if _, err := eng.ReadNext(0, 1); err != ErrEmpty {
		t.Fatalf("ReadNext on empty sensor = %v, want ErrEmpty", err)
	}
}

func TestTwoConsumersIndependentAcks(t *testing.T) {
	// S2: pool_size=4, watermark=50, sensor 7 TSD, two consumers.
	eng := newTestEngine(t, 4, 50, "c0", "c1")
	if err := eng.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 12; v++ {
		if err := eng.WriteTSD(7, v); err != nil {
			t.Fatalf("WriteTSD(%d): %v", v, err)
		}
	}

	for i := 0; i < 6; i++ {
		if _, err := eng.ReadNext(0, 7); err != nil {
			t.Fatalf("ReadNext(c0) #%d: %v", i, err)
		}
	}
	if err := eng.AckAllPending(0, 7); err != nil {
		t.Fatalf("AckAllPending(c0): %v", err)
	}

	avail, err := eng.AvailableCount(1, 7)
	if err != nil {
		t.Fatalf("AvailableCount(c1): %v", err)
	}
	if avail != 12 {
		t.Fatalf("AvailableCount(c1) = %d, want 12", avail)
	}

	var out [12]Record
	n, err := eng.ReadBulk(1, 7, out[:], 12)
	if err != nil {
		t.Fatalf("ReadBulk(c1): %v", err)
	}
	if n != 12 {
		t.Fatalf("ReadBulk(c1) returned %d, want 12", n)
	}
	for i, rec := range out[:n] {
		if rec.Value != int32(i) {
			t.Fatalf("record[%d].Value = %d, want %d", i, rec.Value, i)
		}
	}
}

func TestRevertPendingRoundTrip(t *testing.T) {
	// S3
	eng := newTestEngine(t, 4, 50)
	if err := eng.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 48; v++ {
		if err := eng.WriteTSD(7, v); err != nil {
			t.Fatalf("WriteTSD(%d): %v", v, err)
		}
	}

	readFive := func() []int32 {
		var out [5]Record
		n, err := eng.ReadBulk(0, 7, out[:], 5)
		if err != nil {
			t.Fatalf("ReadBulk: %v", err)
		}
		if n != 5 {
			t.Fatalf("ReadBulk returned %d, want 5", n)
		}
		vals := make([]int32, n)
		for i, r := range out[:n] {
			vals[i] = r.Value
		}
		return vals
	}

	first := readFive()
	if err := eng.RevertPending(0, 7); err != nil {
		t.Fatalf("RevertPending: %v", err)
	}
	second := readFive()

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("revert mismatch at %d: first=%v second=%v", i, first, second)
		}
	}
	want := []int32{0, 1, 2, 3, 4}
	for i, v := range want {
		if first[i] != v {
			t.Fatalf("first[%d] = %d, want %d", i, first[i], v)
		}
	}
}

func TestAckNeverIncreasesAvailableCount(t *testing.T) {
	eng := newTestEngine(t, 4, 50)
	if err := eng.ConfigureSensor(7, KindTSD, 1000); err != nil {
		t.Fatalf("ConfigureSensor: %v", err)
	}
	for v := int32(0); v < 24; v++ {
		if err := eng.WriteTSD(7, v); err != nil {
			t.Fatalf("WriteTSD(%d): %v", v, err)
		}
	}

	before, err := eng.AvailableCount(0, 7)
	if err != nil {
		t.Fatalf("AvailableCount before: %v", err)
	}

	var out [10]Record
	if _, err := eng.ReadBulk(0, 7, out[:], 10); err != nil {
		t.Fatalf("ReadBulk: %v", err)
	}
	if err := eng.AckAllPending(0, 7); err != nil {
		t.Fatalf("AckAllPending: %v", err)
	}

	after, err := eng.AvailableCount(0, 7)
	if err != nil {
		t.Fatalf("AvailableCount after: %v", err)
	}
	if after > before {
		t.Fatalf("AvailableCount grew after ack: before=%d after=%d", before, after)
	}
	if after != before-10 {
		t.Fatalf("AvailableCount after ack = %d, want %d", after, before-10)
	}
}
