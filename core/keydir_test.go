package core

import "testing"

func TestKeydirPutAndGet(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("k"), keydirEntry{segmentID: 1, valueSize: 3, valueOffset: 10, timestamp: 1})

	entry, ok := kd.get([]byte("k"))
	if !ok {
		t.Fatal("expected key to be present")
	}
	if entry.segmentID != 1 || entry.valueSize != 3 {
		t.Errorf("got %+v", entry)
	}
}

func TestKeydirPutOverwriteAccruesStale(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("k"), keydirEntry{segmentID: 1, valueSize: 5, valueOffset: 0, timestamp: 1})
	kd.put([]byte("k"), keydirEntry{segmentID: 1, valueSize: 7, valueOffset: 100, timestamp: 2})

	if kd.staleEntries != 1 {
		t.Errorf("staleEntries = %d, want 1", kd.staleEntries)
	}
	want := recordFootprint(1, 5)
	if kd.staleBytes != want {
		t.Errorf("staleBytes = %d, want %d", kd.staleBytes, want)
	}
}

func TestKeydirRemoveAccruesStaleAndDrops(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("k"), keydirEntry{segmentID: 1, valueSize: 4, valueOffset: 0, timestamp: 1})

	old, ok := kd.remove([]byte("k"))
	if !ok || old.valueSize != 4 {
		t.Fatalf("remove returned ok=%v old=%+v", ok, old)
	}
	if kd.contains([]byte("k")) {
		t.Error("expected key to be gone after remove")
	}
	if kd.staleEntries != 1 {
		t.Errorf("staleEntries = %d, want 1", kd.staleEntries)
	}
}

func TestKeydirRemoveMissingIsNoop(t *testing.T) {
	kd := newKeydir()
	_, ok := kd.remove([]byte("missing"))
	if ok {
		t.Error("remove on missing key should report ok=false")
	}
	if kd.staleEntries != 0 {
		t.Errorf("staleEntries = %d, want 0", kd.staleEntries)
	}
}

func TestKeydirRelocateDoesNotAffectStale(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("k"), keydirEntry{segmentID: 1, valueSize: 4, valueOffset: 0, timestamp: 1})
	kd.markStale(99) // unrelated stale bytes from elsewhere

	before := kd.staleBytes
	kd.relocate([]byte("k"), keydirEntry{segmentID: 2, valueSize: 4, valueOffset: 50, timestamp: 1})

	if kd.staleBytes != before {
		t.Errorf("staleBytes changed after relocate: %d -> %d", before, kd.staleBytes)
	}
	entry, ok := kd.get([]byte("k"))
	if !ok || entry.segmentID != 2 || entry.valueOffset != 50 {
		t.Errorf("relocate did not move entry, got %+v", entry)
	}
}

func TestKeydirResetStale(t *testing.T) {
	kd := newKeydir()
	kd.markStale(50)
	kd.resetStale()

	if kd.staleBytes != 0 || kd.staleEntries != 0 {
		t.Errorf("expected zeroed counters, got bytes=%d entries=%d", kd.staleBytes, kd.staleEntries)
	}
}

func TestKeydirForEachShortCircuits(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("a"), keydirEntry{})
	kd.put([]byte("b"), keydirEntry{})

	var visited int
	kd.forEach(func(string, keydirEntry) bool {
		visited++
		return false
	})

	if visited != 1 {
		t.Errorf("visited = %d, want 1 after early stop", visited)
	}
}
