package core

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Record (data file) layout, all integers little-endian:
//
//	crc32(4) | timestamp(8) | keySize(8) | valueSize(8) | key | value
//
// The CRC is computed over every field after itself. A tombstone is a
// record with valueSize == 0 and no value payload.
const dataHeaderLen = 4 + 8 + 8 + 8 // 28

// Record (hint file) layout, little-endian, no CRC and no value payload:
//
//	timestamp(8) | keySize(8) | valueSize(8) | valueOffset(8) | key
const hintHeaderLen = 8 + 8 + 8 + 8 // 32

// writeData encodes one data record to w and returns the offset, relative
// to the start of the record, at which the value payload begins. The
// caller adds this to the record's start-of-record offset to obtain the
// absolute value offset stored in the keydir.
func writeData(w io.Writer, key, value []byte, timestamp uint64) (valueOffset int64, err error) {
	total := dataHeaderLen + len(key) + len(value)
	buf := make([]byte, total)

	body := buf[4:] // everything the CRC covers
	binary.LittleEndian.PutUint64(body[0:8], timestamp)
	binary.LittleEndian.PutUint64(body[8:16], uint64(len(key)))
	binary.LittleEndian.PutUint64(body[16:24], uint64(len(value)))
	copy(body[24:24+len(key)], key)
	copy(body[24+len(key):], value)

	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(body))

	if _, err := w.Write(buf); err != nil {
		return 0, err
	}

	return int64(dataHeaderLen + len(key)), nil
}

// payloadFits reports whether a declared key+value size could possibly
// be backed by real bytes, given maxPayloadBytes remaining in the
// file/section being scanned. A torn write can leave stale garbage in
// the size fields of an otherwise freshly-written header, so these
// fields must never be trusted enough to drive make([]byte, ...)
// directly — that risks an unrecoverable OOM/makeslice panic on a
// single corrupt record instead of the truncate-and-continue behavior
// recovery requires. max < 0 is treated as "no room at all", not as
// unbounded.
func payloadFits(keySize, valueSize uint64, maxPayloadBytes int64) bool {
	if maxPayloadBytes < 0 {
		maxPayloadBytes = 0
	}
	max := uint64(maxPayloadBytes)
	if keySize > max {
		return false
	}
	return valueSize <= max-keySize
}

// readData reads one data record from r. maxPayloadBytes bounds
// keySize+valueSize against the bytes actually known to remain in the
// underlying file — the caller (the segment scanner) derives this from
// the segment's real size, never from the header being read. err is
// io.EOF when r is exactly at a record boundary with nothing left to
// read (a clean stop). Any other non-nil err (typically
// io.ErrUnexpectedEOF) means a partial or corrupt record was found —
// the caller should treat everything from the start of this record
// onward as missing. crcOk is false when a complete record was read but
// its checksum does not match, which the caller treats the same way as
// a partial read: discard this record and stop.
func readData(r io.Reader, maxPayloadBytes int64) (timestamp uint64, key, value []byte, crcOk bool, err error) {
	var hdr [dataHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, nil, false, err
	}

	declaredCRC := binary.LittleEndian.Uint32(hdr[0:4])
	timestamp = binary.LittleEndian.Uint64(hdr[4:12])
	keySize := binary.LittleEndian.Uint64(hdr[12:20])
	valueSize := binary.LittleEndian.Uint64(hdr[20:28])

	if !payloadFits(keySize, valueSize, maxPayloadBytes) {
		return 0, nil, nil, false, io.ErrUnexpectedEOF
	}

	payload := make([]byte, keySize+valueSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, nil, false, err
	}

	key = payload[:keySize]
	value = payload[keySize:]

	h := crc32.NewIEEE()
	h.Write(hdr[4:])
	h.Write(payload)
	crcOk = h.Sum32() == declaredCRC

	return timestamp, key, value, crcOk, nil
}

// writeHint encodes one hint record to w.
func writeHint(w io.Writer, key []byte, valueSize, valueOffset, timestamp uint64) error {
	buf := make([]byte, hintHeaderLen+len(key))
	binary.LittleEndian.PutUint64(buf[0:8], timestamp)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(key)))
	binary.LittleEndian.PutUint64(buf[16:24], valueSize)
	binary.LittleEndian.PutUint64(buf[24:32], valueOffset)
	copy(buf[32:], key)

	_, err := w.Write(buf)
	return err
}

// readHint reads one hint record from r. maxKeyBytes bounds keySize
// against the bytes actually known to remain in the hint file, the same
// defense readData applies to the data file. Error semantics mirror
// readData: io.EOF at a record boundary means a clean stop; anything
// else (including an over-large declared keySize) means a truncated or
// corrupt hint file, which the caller treats as "no usable hint file"
// and falls back to scanning the data file instead.
func readHint(r io.Reader, maxKeyBytes int64) (timestamp uint64, key []byte, valueSize, valueOffset uint64, err error) {
	var hdr [hintHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, 0, 0, err
	}

	timestamp = binary.LittleEndian.Uint64(hdr[0:8])
	keySize := binary.LittleEndian.Uint64(hdr[8:16])
	valueSize = binary.LittleEndian.Uint64(hdr[16:24])
	valueOffset = binary.LittleEndian.Uint64(hdr[24:32])

	if !payloadFits(keySize, 0, maxKeyBytes) {
		return 0, nil, 0, 0, io.ErrUnexpectedEOF
	}

	key = make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return 0, nil, 0, 0, err
	}

	return timestamp, key, valueSize, valueOffset, nil
}
