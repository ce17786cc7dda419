// Package tinkverr defines the sentinel errors the core engine can
// return. Call sites wrap these with context via fmt.Errorf("...: %w", ...)
// so callers can still discriminate with errors.Is.
package tinkverr

import "errors"

var (
	// ErrIO wraps any underlying filesystem failure.
	ErrIO = errors.New("tinkv: io error")

	// ErrCorruptData indicates that a keydir entry points at a segment
	// that is not present. Short reads of a value are reported as ErrIO,
	// and CRC mismatches found during recovery are truncated away rather
	// than returned.
	ErrCorruptData = errors.New("tinkv: corrupt data")

	// ErrKeyNotFound is returned by Remove on an absent key only. Get
	// never returns it; a missing key on Get is a nil, false, nil result.
	ErrKeyNotFound = errors.New("tinkv: key not found")

	// ErrKeyTooLarge means the key exceeds the configured MaxKeySize.
	ErrKeyTooLarge = errors.New("tinkv: key too large")

	// ErrValueTooLarge means the value exceeds the configured MaxValueSize.
	ErrValueTooLarge = errors.New("tinkv: value too large")

	// ErrKeyEmpty is returned on set/remove/get with a zero-length key.
	ErrKeyEmpty = errors.New("tinkv: key is empty")

	// ErrValueEmpty is returned by Set on a zero-length value. The wire
	// format has no way to represent a live record with value_size == 0:
	// that shape is reserved for a tombstone, so storing it would be
	// indistinguishable from a deletion on the next recovery.
	ErrValueEmpty = errors.New("tinkv: value is empty")

	// ErrDataFileOverflow means a single record (header + key + value)
	// exceeds MaxDataFileSize, making it unstorable in any segment.
	ErrDataFileOverflow = errors.New("tinkv: record exceeds max data file size")

	// ErrKeyDirBuild means startup recovery could not truncate a
	// segment's corrupt or partial tail.
	ErrKeyDirBuild = errors.New("tinkv: failed to build keydir")
)
