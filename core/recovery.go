package core

import (
	"bufio"
	"fmt"
	"io"
	"os"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

type hintRecord struct {
	timestamp   uint64
	key         []byte
	valueSize   uint64
	valueOffset uint64
}

// loadHintRecords reads a hint file to completion and returns every
// record in it. It returns os.ErrNotExist when no hint file exists for
// the segment (the common case — hint files are only produced by
// compaction) and any other error when the hint file exists but is not
// well-formed, in which case the caller falls back to scanning the data
// file instead.
func loadHintRecords(path string) ([]hintRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	r := bufio.NewReader(f)
	var pos int64
	var recs []hintRecord
	for {
		maxKeyBytes := size - pos - hintHeaderLen
		ts, key, valueSize, valueOffset, err := readHint(r, maxKeyBytes)
		if err != nil {
			if err == io.EOF {
				return recs, nil
			}
			return nil, err
		}
		pos += hintHeaderLen + int64(len(key))
		recs = append(recs, hintRecord{timestamp: ts, key: key, valueSize: valueSize, valueOffset: valueOffset})
	}
}

// loadFromData sequentially scans a segment's data file, upserting or
// tombstoning keydir entries in physical (= chronological, since
// segments are append-only) order. On the first corrupt or partial
// record it truncates the data file at the end of the last good record
// and stops — older segments are unaffected.
func loadFromData(seg *segment, kd *keydir, logger *zap.SugaredLogger) error {
	scanner := newRecordScanner(seg)

	for {
		rec, ok := scanner.scan()
		if !ok {
			break
		}

		entry := keydirEntry{
			segmentID:   seg.id,
			valueSize:   uint64(len(rec.value)),
			valueOffset: rec.valueOffset,
			timestamp:   rec.timestamp,
		}

		if rec.tombstone {
			kd.remove(rec.key)
			kd.markStale(recordFootprint(len(rec.key), 0))
		} else {
			kd.put(rec.key, entry)
		}
	}

	if scanner.err != nil && scanner.err != io.EOF {
		logger.Warnw("truncating segment at last good record",
			"segment", seg.id, "goodBytes", scanner.end)

		if err := seg.file.Truncate(scanner.end); err != nil {
			return fmt.Errorf("truncate segment %d: %w", seg.id, err)
		}
		seg.size = scanner.end
	}

	return nil
}

// loadFromHint applies every record in recs to kd, in file order. A
// compaction-produced hint file holds each key at most once, so the
// order of records within it does not change the result.
func loadFromHint(segID uint64, recs []hintRecord, kd *keydir) {
	for _, r := range recs {
		entry := keydirEntry{
			segmentID:   segID,
			valueSize:   r.valueSize,
			valueOffset: int64(r.valueOffset),
			timestamp:   r.timestamp,
		}

		if r.valueSize == 0 {
			kd.remove(r.key)
			kd.markStale(recordFootprint(len(r.key), 0))
		} else {
			kd.put(r.key, entry)
		}
	}
}

// recoverKeydir rebuilds the keydir by processing every segment in
// ascending id order, preferring a segment's hint file when one exists
// and is well-formed, falling back to a full data-file scan otherwise.
func recoverKeydir(segs *segmentSet, kd *keydir, logger *zap.SugaredLogger) error {
	for _, id := range segs.allIDsAscending() {
		seg, ok := segs.get(id)
		if !ok {
			continue
		}

		recs, err := loadHintRecords(hintPath(segs.dir, id))
		switch {
		case err == nil:
			loadFromHint(id, recs, kd)
		case os.IsNotExist(err):
			if err := loadFromData(seg, kd, logger); err != nil {
				return err
			}
		default:
			logger.Warnw("hint file malformed, falling back to data scan", "segment", id, "err", err)
			if err := loadFromData(seg, kd, logger); err != nil {
				return err
			}
		}
	}

	cleanupOrphanedCompactionOutput(segs, kd, logger)
	return nil
}

// cleanupOrphanedCompactionOutput removes archived segments that (a)
// carry a hint file, meaning they can only have been produced by a
// prior compaction, and (b) hold no bytes the recovered keydir actually
// points at: every record in them was superseded by a segment scanned
// later, or they hold no records at all. Output of a compaction that
// crashed before deleting the segments it replaced is not caught here:
// its ids are higher than theirs, so it wins the ascending scan and
// stays referenced. Deleting an unreferenced segment is always safe:
// nothing in the keydir references it.
func cleanupOrphanedCompactionOutput(segs *segmentSet, kd *keydir, logger *zap.SugaredLogger) {
	referenced := mapset.NewSet[uint64]()
	kd.forEach(func(_ string, e keydirEntry) bool {
		referenced.Add(e.segmentID)
		return true
	})

	var orphans []uint64
	for _, id := range segs.archiveIDs() {
		if referenced.Contains(id) {
			continue
		}
		if _, err := os.Stat(hintPath(segs.dir, id)); err == nil {
			orphans = append(orphans, id)
		}
	}

	if len(orphans) == 0 {
		return
	}

	logger.Infow("removing orphaned compaction output", "segments", orphans)
	if err := segs.remove(orphans); err != nil {
		logger.Warnw("failed to remove orphaned compaction output", "err", err)
	}
}
