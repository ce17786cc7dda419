package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// segment represents one on-disk data file (plus its optional hint
// file). Exactly one segment in a SegmentSet is active (accepting
// appends); every other segment is archived (frozen, read-only).
//
// A single *os.File handle serves both roles: positional WriteAt calls at
// the tracked size for the active writer and positional ReadAt calls for
// value fetches. Neither depends on the descriptor's own file offset, so
// a segment reopened (and possibly tail-truncated) by recovery appends at
// its real end.
type segment struct {
	id     uint64
	file   *os.File
	size   int64
	frozen bool
}

func dataFileName(id uint64) string { return fmt.Sprintf("%012d.tinkv.data", id) }
func hintFileName(id uint64) string { return fmt.Sprintf("%012d.tinkv.hint", id) }

func dataPath(dir string, id uint64) string { return filepath.Join(dir, dataFileName(id)) }
func hintPath(dir string, id uint64) string { return filepath.Join(dir, hintFileName(id)) }

// createSegment creates a brand-new, empty segment file and returns it
// as the active writer.
func createSegment(dir string, id uint64) (*segment, error) {
	path := dataPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", id, err)
	}
	return &segment{id: id, file: f}, nil
}

// openSegment opens an existing segment's data file for reading and,
// potentially, tail-truncation during recovery.
func openSegment(dir string, id uint64) (*segment, error) {
	path := dataPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %d: %w", id, err)
	}
	return &segment{id: id, file: f, size: info.Size()}, nil
}

// append writes one data record to the segment and returns the absolute
// offset, within this segment's data file, of the value payload. Active
// segments only.
func (s *segment) append(key, value []byte, timestamp uint64) (valueOffset int64, err error) {
	relOffset, err := writeData(io.NewOffsetWriter(s.file, s.size), key, value, timestamp)
	if err != nil {
		return 0, fmt.Errorf("append to segment %d: %w", s.id, err)
	}

	start := s.size
	total := int64(dataHeaderLen + len(key) + len(value))
	s.size += total

	return start + relOffset, nil
}

// appendHint writes one hint record to the given hint file writer.
func appendHint(w io.Writer, key []byte, valueSize, valueOffset, timestamp uint64) error {
	return writeHint(w, key, valueSize, valueOffset, timestamp)
}

// readValue positions the reader at offset and reads size bytes.
func (s *segment) readValue(offset int64, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := s.file.ReadAt(buf, offset)
	if err != nil || uint64(n) != size {
		return nil, fmt.Errorf("read value at segment %d offset %d: %w", s.id, offset, errOrShort(err, n, size))
	}
	return buf, nil
}

func errOrShort(err error, n int, want uint64) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("short read: got %d, want %d", n, want)
}

// sync durably flushes the active segment's pending writes.
func (s *segment) sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d: %w", s.id, err)
	}
	return nil
}

// freeze marks the segment read-only. The engine stops proposing writes
// to it; the underlying file handle is kept open for reads.
func (s *segment) freeze() { s.frozen = true }

// close releases the segment's file handle.
func (s *segment) close() error {
	return s.file.Close()
}

// scannedRecord is one record yielded by recordScanner.scan.
type scannedRecord struct {
	key           []byte
	value         []byte // nil/empty for a tombstone
	tombstone     bool
	timestamp     uint64
	recordOffset  int64 // start-of-record offset within the segment
	valueOffset   int64 // absolute offset of the value payload
}

// recordScanner is a forward-only, buffered reader over a segment's data
// file, used by recovery.
type recordScanner struct {
	reader  *bufio.Reader
	end     int64 // end offset of the last successfully parsed record
	segSize int64 // total size of the segment's data file
	err     error
}

// newRecordScanner starts scanning s's data file from offset 0.
func newRecordScanner(s *segment) *recordScanner {
	sr := io.NewSectionReader(s.file, 0, 1<<62)
	return &recordScanner{reader: bufio.NewReader(sr), segSize: s.size}
}

// scan advances to the next record, returning false at clean EOF or on
// the first corrupt/truncated record. Callers should check err after a
// false return: a nil err means a clean stop; a non-nil err means a
// partial or corrupt tail was found starting at rs.end, which the
// caller should truncate away.
func (rs *recordScanner) scan() (*scannedRecord, bool) {
	if rs.err != nil {
		return nil, false
	}

	start := rs.end
	maxPayload := rs.segSize - start - dataHeaderLen
	timestamp, key, value, crcOk, err := readData(rs.reader, maxPayload)
	if err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			rs.err = err
		}
		// Either a clean stop (io.EOF) or a partial tail record
		// (io.ErrUnexpectedEOF): in both cases there is nothing more
		// to yield. rs.err stays nil for a clean stop so the caller
		// can tell "nothing left" apart from "found junk".
		if err == io.ErrUnexpectedEOF {
			rs.err = io.ErrUnexpectedEOF
		}
		return nil, false
	}

	total := int64(dataHeaderLen + len(key) + len(value))
	rec := &scannedRecord{
		key:          key,
		value:        value,
		tombstone:    len(value) == 0,
		timestamp:    timestamp,
		recordOffset: start,
		valueOffset:  start + dataHeaderLen + int64(len(key)),
	}

	if !crcOk {
		rs.err = io.ErrUnexpectedEOF
		return nil, false
	}

	rs.end = start + total
	return rec, true
}

// truncated reports whether scan() stopped because of a corrupt or
// partial tail record (as opposed to a clean end of file).
func (rs *recordScanner) truncated() bool {
	return rs.err == io.ErrUnexpectedEOF
}
