// Package core implements the TinKV storage engine: an embeddable,
// append-only, log-structured key-value store in the Bitcask family.
// The Engine is single-owner and fully synchronous — every exported
// method does its work on the caller's goroutine, including
// compaction; there is no background thread or internal scheduler.
package core

import (
	"fmt"
	"os"
	"time"

	"github.com/epokhe/tinkv/internal/tinkverr"
)

// Stats is a point-in-time snapshot of an Engine's bookkeeping
// counters.
type Stats struct {
	TotalActiveEntries uint64
	TotalStaleEntries  uint64
	SizeOfStaleEntries uint64
	TotalDataFiles     int
	SizeOfAllDataFiles int64
}

// Engine is a handle to one TinKV store directory. It is not safe for
// concurrent use by multiple goroutines without external
// synchronization — it is designed around a single writer.
type Engine struct {
	dir    string
	cfg    config
	segs   *segmentSet
	kd     *keydir
	lock   *dirLock
	closed bool
}

// Open opens (creating if necessary) a TinKV store at path, runs
// recovery, and returns a ready-to-use Engine. Corrupt or partial tails
// found by recovery are truncated, not reported; Open fails with
// tinkverr.ErrKeyDirBuild only if truncating such a tail fails.
func Open(path string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", tinkverr.ErrIO, err)
	}

	var lock *dirLock
	if !cfg.disableLock {
		l, err := acquireDirLock(path)
		if err != nil {
			return nil, fmt.Errorf("%w: directory already in use: %v", tinkverr.ErrIO, err)
		}
		lock = l
	}

	segs, err := openSegmentSet(path, cfg.maxDataFileSize)
	if err != nil {
		if lock != nil {
			_ = lock.release()
		}
		return nil, fmt.Errorf("%w: open segments: %v", tinkverr.ErrIO, err)
	}

	kd := newKeydir()
	if err := recoverKeydir(segs, kd, cfg.logger); err != nil {
		_ = segs.closeAll()
		if lock != nil {
			_ = lock.release()
		}
		return nil, fmt.Errorf("%w: %v", tinkverr.ErrKeyDirBuild, err)
	}

	cfg.logger.Infow("opened store", "dir", path, "keys", kd.len(), "segments", segs.segmentCount())

	return &Engine{dir: path, cfg: cfg, segs: segs, kd: kd, lock: lock}, nil
}

func (e *Engine) checkKey(key []byte) error {
	if len(key) == 0 {
		return tinkverr.ErrKeyEmpty
	}
	if uint64(len(key)) > e.cfg.maxKeySize {
		return fmt.Errorf("%w: %d bytes", tinkverr.ErrKeyTooLarge, len(key))
	}
	return nil
}

// Get returns the current value of key, or (nil, false) if key is
// absent. A missing key is never an error.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if err := e.checkKey(key); err != nil {
		return nil, false, err
	}

	entry, ok := e.kd.get(key)
	if !ok {
		return nil, false, nil
	}

	seg, ok := e.segs.get(entry.segmentID)
	if !ok {
		return nil, false, fmt.Errorf("%w: keydir points at missing segment %d", tinkverr.ErrCorruptData, entry.segmentID)
	}

	value, err := seg.readValue(entry.valueOffset, entry.valueSize)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
	}

	return value, true, nil
}

// Set writes key=value, replacing any current value. Triggers a
// rotation if the write would overflow the active segment, and a
// synchronous compaction if the configured stale-byte threshold is
// crossed afterward.
func (e *Engine) Set(key, value []byte) error {
	if err := e.checkKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return tinkverr.ErrValueEmpty
	}
	if uint64(len(value)) > e.cfg.maxValueSize {
		return fmt.Errorf("%w: %d bytes", tinkverr.ErrValueTooLarge, len(value))
	}

	recordSize := int64(dataHeaderLen + len(key) + len(value))
	if recordSize > e.cfg.maxDataFileSize {
		return fmt.Errorf("%w: record is %d bytes", tinkverr.ErrDataFileOverflow, recordSize)
	}

	if err := e.rotateIfNeeded(recordSize); err != nil {
		return err
	}

	timestamp := uint64(time.Now().UnixNano())
	active := e.segs.active()
	valueOffset, err := active.append(key, value, timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
	}

	e.kd.put(key, keydirEntry{
		segmentID:   active.id,
		valueSize:   uint64(len(value)),
		valueOffset: valueOffset,
		timestamp:   timestamp,
	})

	if e.cfg.sync {
		if err := active.sync(); err != nil {
			return fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
		}
	}

	return e.maybeCompact()
}

// Remove deletes key, returning tinkverr.ErrKeyNotFound if it is not
// currently present.
func (e *Engine) Remove(key []byte) error {
	if err := e.checkKey(key); err != nil {
		return err
	}

	if !e.kd.contains(key) {
		return tinkverr.ErrKeyNotFound
	}

	recordSize := int64(dataHeaderLen + len(key))
	if recordSize > e.cfg.maxDataFileSize {
		return fmt.Errorf("%w: record is %d bytes", tinkverr.ErrDataFileOverflow, recordSize)
	}

	if err := e.rotateIfNeeded(recordSize); err != nil {
		return err
	}

	timestamp := uint64(time.Now().UnixNano())
	active := e.segs.active()
	if _, err := active.append(key, nil, timestamp); err != nil {
		return fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
	}

	e.kd.remove(key)
	e.kd.markStale(recordFootprint(len(key), 0))

	if e.cfg.sync {
		if err := active.sync(); err != nil {
			return fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
		}
	}

	return e.maybeCompact()
}

func (e *Engine) rotateIfNeeded(incomingSize int64) error {
	active := e.segs.active()
	if active.size+incomingSize <= e.cfg.maxDataFileSize {
		return nil
	}
	if err := e.segs.rotate(); err != nil {
		return fmt.Errorf("%w: rotate: %v", tinkverr.ErrIO, err)
	}
	return nil
}

func (e *Engine) maybeCompact() error {
	if e.kd.staleBytes < e.cfg.compactionThreshold {
		return nil
	}
	e.cfg.logger.Infow("stale byte threshold crossed, compacting",
		"staleBytes", e.kd.staleBytes, "threshold", e.cfg.compactionThreshold)
	return e.Compact()
}

// Keys returns every live key. The returned slices are independent
// copies safe to retain.
func (e *Engine) Keys() [][]byte {
	return e.kd.keys()
}

// ForEach calls visit(key, value) for every live entry, in
// unspecified order, until visit returns false or every entry has
// been visited.
func (e *Engine) ForEach(visit func(key, value []byte) bool) error {
	var iterErr error
	e.kd.forEach(func(k string, entry keydirEntry) bool {
		seg, ok := e.segs.get(entry.segmentID)
		if !ok {
			iterErr = fmt.Errorf("%w: keydir points at missing segment %d", tinkverr.ErrCorruptData, entry.segmentID)
			return false
		}
		value, err := seg.readValue(entry.valueOffset, entry.valueSize)
		if err != nil {
			iterErr = fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
			return false
		}
		return visit([]byte(k), value)
	})
	return iterErr
}

// Len returns the number of live keys.
func (e *Engine) Len() int {
	return e.kd.len()
}

// Sync fsyncs the active segment's pending writes.
func (e *Engine) Sync() error {
	if err := e.segs.active().sync(); err != nil {
		return fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
	}
	return nil
}

// Stats returns a snapshot of the engine's bookkeeping counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalActiveEntries: uint64(e.kd.len()),
		TotalStaleEntries:  e.kd.staleEntries,
		SizeOfStaleEntries: e.kd.staleBytes,
		TotalDataFiles:     e.segs.segmentCount(),
		SizeOfAllDataFiles: e.segs.totalDataFileSize(),
	}
}

// Compact runs a full, synchronous merge: every archived segment plus
// the current active segment (after rotation) is condensed down to
// only its live entries, written to fresh segments with matching hint
// files, and the originals are deleted. It blocks the caller for its
// entire duration — there is no background compaction.
func (e *Engine) Compact() error {
	if err := e.compact(); err != nil {
		return fmt.Errorf("%w: %v", tinkverr.ErrIO, err)
	}
	return nil
}

// Close fsyncs the active segment, closes every segment handle, and
// releases the directory lock. The Engine must not be used afterward.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if err := e.segs.active().sync(); err != nil {
		firstErr = err
	}
	if err := e.segs.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.lock != nil {
		if err := e.lock.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fmt.Errorf("%w: %v", tinkverr.ErrIO, firstErr)
	}
	return nil
}
