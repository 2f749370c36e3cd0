package segmentstore

import (
	"testing"
	"time"
)

func TestStore_AddAndGet(t *testing.T) {
	st, err := New(Config{MaxMemorySegments: 10, EstimatedSegmentBytes: 1024}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	for i := 0; i < 5; i++ {
		seg := Segment{
			Index:    i,
			Duration: 6.0,
			Data:     []byte("segment-data"),
			Complete: true,
		}
		if err := st.Add(seg); err != nil {
			t.Fatalf("Add(%d) failed: %v", i, err)
		}
	}

	if got := st.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
	if got := st.HighestComplete(); got != 4 {
		t.Errorf("HighestComplete() = %d, want 4", got)
	}

	got, err := st.Get(2)
	if err != nil {
		t.Fatalf("Get(2) failed: %v", err)
	}
	if string(got.Data) != "segment-data" {
		t.Errorf("Get(2).Data = %q, want %q", got.Data, "segment-data")
	}
}

func TestStore_AddRejectsOutOfOrder(t *testing.T) {
	st, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	if err := st.Add(Segment{Index: 0, Data: []byte("a")}); err != nil {
		t.Fatalf("Add(0) failed: %v", err)
	}
	if err := st.Add(Segment{Index: 2, Data: []byte("b")}); err == nil {
		t.Fatal("Add(2) after Add(0): want error, got nil")
	}
}

func TestStore_GetUnpublishedReturnsNotFound(t *testing.T) {
	st, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	if _, err := st.Get(0); err != ErrNotFound {
		t.Errorf("Get(0) on empty store: err = %v, want ErrNotFound", err)
	}
}

func TestStore_SpillsToDiskPastMemoryCap(t *testing.T) {
	st, err := New(Config{MaxMemorySegments: 2, EstimatedSegmentBytes: 16}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	for i := 0; i < 4; i++ {
		seg := Segment{Index: i, Data: make([]byte, 16)}
		if err := st.Add(seg); err != nil {
			t.Fatalf("Add(%d) failed: %v", i, err)
		}
	}

	if !st.slice.IsSpilled() {
		t.Error("expected catalog to have spilled to disk after exceeding memory cap")
	}

	// Every previously published segment must still be retrievable, spilled
	// or not: the catalog never evicts while the session is active.
	for i := 0; i < 4; i++ {
		if !st.Has(i) {
			t.Errorf("Has(%d) = false after spill, want true", i)
		}
	}
}

func TestStore_SweepReapsExpiredSegments(t *testing.T) {
	st, err := New(Config{MaxMemorySegments: 10, EstimatedSegmentBytes: 1024, SegmentTTL: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	if err := st.Add(Segment{Index: 0, Data: []byte("a"), Complete: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if reaped := st.Sweep(); reaped != 1 {
		t.Errorf("Sweep() reaped %d, want 1", reaped)
	}
	if st.Has(0) {
		t.Error("Has(0) after sweep: want false, segment should be reaped")
	}
}

func TestStore_PollerStats(t *testing.T) {
	st, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	st.RecordRequest("client-1", "vlc/3.0", "10.0.0.1:5000", 3, 1500)
	st.RecordRequest("client-1", "vlc/3.0", "10.0.0.1:5000", 4, 1600)

	pollers := st.Pollers()
	if len(pollers) != 1 {
		t.Fatalf("len(Pollers()) = %d, want 1", len(pollers))
	}
	if pollers[0].LastSegment != 4 {
		t.Errorf("LastSegment = %d, want 4", pollers[0].LastSegment)
	}
	if pollers[0].BytesServed != 3100 {
		t.Errorf("BytesServed = %d, want 3100", pollers[0].BytesServed)
	}
}
