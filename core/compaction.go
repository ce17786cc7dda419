package core

import (
	"bufio"
	"fmt"
	"os"
)

// compactionOutput tracks one compaction-produced segment and its
// matching hint file while they are still being filled.
type compactionOutput struct {
	seg       *segment
	hintFile  *os.File
	hintW     *bufio.Writer
}

func newCompactionOutput(dir string, id uint64) (*compactionOutput, error) {
	seg, err := createSegment(dir, id)
	if err != nil {
		return nil, err
	}

	hf, err := os.OpenFile(hintPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		_ = seg.close()
		return nil, fmt.Errorf("create hint file %d: %w", id, err)
	}

	return &compactionOutput{seg: seg, hintFile: hf, hintW: bufio.NewWriter(hf)}, nil
}

// finalize flushes and fsyncs both the data and hint files, leaving the
// segment frozen and ready to be registered as archived.
func (co *compactionOutput) finalize() error {
	if err := co.hintW.Flush(); err != nil {
		return fmt.Errorf("flush hint file %d: %w", co.seg.id, err)
	}
	if err := co.hintFile.Sync(); err != nil {
		return fmt.Errorf("sync hint file %d: %w", co.seg.id, err)
	}
	if err := co.hintFile.Close(); err != nil {
		return fmt.Errorf("close hint file %d: %w", co.seg.id, err)
	}
	if err := co.seg.sync(); err != nil {
		return err
	}
	co.seg.freeze()
	return nil
}

// abort closes and removes a partially-built compaction output pair, on
// the failure path.
func (co *compactionOutput) abort(dir string) {
	_ = co.hintFile.Close()
	_ = os.Remove(hintPath(dir, co.seg.id))
	_ = co.seg.close()
	_ = os.Remove(dataPath(dir, co.seg.id))
}

// compact implements the §4.7 algorithm: snapshot archived + rotated
// active segments, copy every live entry into fresh segments with
// matching hint files, swap the keydir over to the new locations, then
// delete the snapshot segments and zero the stale counters. It runs
// entirely on the caller's goroutine — there is no background
// compaction in this engine.
func (e *Engine) compact() (rerr error) {
	preRotateArchived := e.segs.archiveIDs()
	preRotateActiveID := e.segs.active().id

	if err := e.segs.rotate(); err != nil {
		return fmt.Errorf("rotate before compaction: %w", err)
	}

	snapshot := append(preRotateArchived, preRotateActiveID)
	snapshotSet := make(map[uint64]bool, len(snapshot))
	for _, id := range snapshot {
		snapshotSet[id] = true
	}

	if len(snapshot) == 0 {
		return nil
	}

	var outputs []*compactionOutput
	cleanupOnError := func() {
		for _, out := range outputs {
			out.abort(e.segs.dir)
		}
	}

	cur, err := newCompactionOutput(e.segs.dir, e.segs.allocateID())
	if err != nil {
		return fmt.Errorf("open compaction segment: %w", err)
	}
	outputs = append(outputs, cur)

	var iterErr error
	e.kd.forEach(func(keyStr string, entry keydirEntry) bool {
		if !snapshotSet[entry.segmentID] {
			return true
		}

		key := []byte(keyStr)
		srcSeg, ok := e.segs.get(entry.segmentID)
		if !ok {
			iterErr = fmt.Errorf("compact: missing source segment %d for key", entry.segmentID)
			return false
		}

		value, err := srcSeg.readValue(entry.valueOffset, entry.valueSize)
		if err != nil {
			iterErr = fmt.Errorf("compact: read value: %w", err)
			return false
		}

		recordSize := int64(dataHeaderLen + len(key) + len(value))
		if cur.seg.size > 0 && cur.seg.size+recordSize > e.cfg.maxDataFileSize {
			if err := cur.finalize(); err != nil {
				iterErr = err
				return false
			}
			next, err := newCompactionOutput(e.segs.dir, e.segs.allocateID())
			if err != nil {
				iterErr = fmt.Errorf("open compaction segment: %w", err)
				return false
			}
			outputs = append(outputs, next)
			cur = next
		}

		valueOffset, err := cur.seg.append(key, value, entry.timestamp)
		if err != nil {
			iterErr = fmt.Errorf("compact: append: %w", err)
			return false
		}

		if err := appendHint(cur.hintW, key, uint64(len(value)), uint64(valueOffset), entry.timestamp); err != nil {
			iterErr = fmt.Errorf("compact: write hint: %w", err)
			return false
		}

		e.kd.relocate(key, keydirEntry{
			segmentID:   cur.seg.id,
			valueSize:   uint64(len(value)),
			valueOffset: valueOffset,
			timestamp:   entry.timestamp,
		})

		return true
	})

	if iterErr != nil {
		cleanupOnError()
		return iterErr
	}

	if err := cur.finalize(); err != nil {
		cleanupOnError()
		return err
	}

	for _, out := range outputs {
		e.segs.addArchived(out.seg)
	}

	if err := e.segs.remove(snapshot); err != nil {
		return fmt.Errorf("retire compacted segments: %w", err)
	}

	e.kd.resetStale()
	return nil
}
