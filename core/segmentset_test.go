package core

import (
	"os"
	"testing"
)

func tempSetDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "tinkv_segmentset_test_*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestOpenSegmentSetEmptyDirCreatesFirstSegment(t *testing.T) {
	dir := tempSetDir(t)
	ss, err := openSegmentSet(dir, 1<<20)
	if err != nil {
		t.Fatalf("openSegmentSet: %v", err)
	}
	defer ss.closeAll()

	if ss.activeID != 1 {
		t.Errorf("activeID = %d, want 1", ss.activeID)
	}
	if len(ss.archiveIDs()) != 0 {
		t.Errorf("expected no archived segments, got %v", ss.archiveIDs())
	}
}

func TestOpenSegmentSetReopensActiveUnderThreshold(t *testing.T) {
	dir := tempSetDir(t)
	ss, err := openSegmentSet(dir, 1<<20)
	if err != nil {
		t.Fatalf("openSegmentSet: %v", err)
	}
	_, _ = ss.active().append([]byte("k"), []byte("v"), 1)
	if err := ss.closeAll(); err != nil {
		t.Fatalf("closeAll: %v", err)
	}

	ss2, err := openSegmentSet(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ss2.closeAll()

	if ss2.activeID != 1 {
		t.Errorf("activeID = %d, want 1 (reused)", ss2.activeID)
	}
	if ss2.active().size == 0 {
		t.Error("expected reopened active segment to carry over its size")
	}
}

func TestOpenSegmentSetRotatesWhenActiveOverThreshold(t *testing.T) {
	dir := tempSetDir(t)
	ss, err := openSegmentSet(dir, 1)
	if err != nil {
		t.Fatalf("openSegmentSet: %v", err)
	}
	_, _ = ss.active().append([]byte("k"), []byte("v"), 1)
	if err := ss.closeAll(); err != nil {
		t.Fatalf("closeAll: %v", err)
	}

	ss2, err := openSegmentSet(dir, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ss2.closeAll()

	if ss2.activeID != 2 {
		t.Errorf("activeID = %d, want 2 (fresh active after oversize reload)", ss2.activeID)
	}
	if len(ss2.archiveIDs()) != 1 || ss2.archiveIDs()[0] != 1 {
		t.Errorf("archiveIDs = %v, want [1]", ss2.archiveIDs())
	}
}

func TestRotateFreezesOldActive(t *testing.T) {
	dir := tempSetDir(t)
	ss, err := openSegmentSet(dir, 1<<20)
	if err != nil {
		t.Fatalf("openSegmentSet: %v", err)
	}
	defer ss.closeAll()

	first := ss.active()
	if err := ss.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if !first.frozen {
		t.Error("expected old active segment to be frozen after rotate")
	}
	if ss.activeID == first.id {
		t.Error("expected a new active segment id after rotate")
	}
}

func TestSegmentSetRemoveDeletesFiles(t *testing.T) {
	dir := tempSetDir(t)
	ss, err := openSegmentSet(dir, 1<<20)
	if err != nil {
		t.Fatalf("openSegmentSet: %v", err)
	}
	defer ss.closeAll()

	if err := ss.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if err := ss.remove([]uint64{1}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, ok := ss.get(1); ok {
		t.Error("expected segment 1 to be gone from byID")
	}
	if _, err := os.Stat(dataPath(dir, 1)); !os.IsNotExist(err) {
		t.Error("expected data file for segment 1 to be deleted")
	}
}
