package core

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"
)

func TestWriteReadDataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	valueOffset, err := writeData(&buf, []byte("key"), []byte("value"), 42)
	if err != nil {
		t.Fatalf("writeData: %v", err)
	}
	if valueOffset != int64(dataHeaderLen+len("key")) {
		t.Errorf("valueOffset = %d, want %d", valueOffset, dataHeaderLen+len("key"))
	}

	ts, key, value, crcOk, err := readData(&buf, math.MaxInt64)
	if err != nil {
		t.Fatalf("readData: %v", err)
	}
	if !crcOk {
		t.Fatal("crcOk = false, want true")
	}
	if ts != 42 || string(key) != "key" || string(value) != "value" {
		t.Errorf("got ts=%d key=%q value=%q", ts, key, value)
	}
}

func TestReadDataCleanEOF(t *testing.T) {
	_, _, _, _, err := readData(bytes.NewReader(nil), math.MaxInt64)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReadDataPartialRecord(t *testing.T) {
	var buf bytes.Buffer
	_, _ = writeData(&buf, []byte("k"), []byte("v"), 1)

	truncated := buf.Bytes()[:buf.Len()-1]
	_, _, _, _, err := readData(bytes.NewReader(truncated), math.MaxInt64)
	if err == nil || err == io.EOF {
		t.Fatalf("err = %v, want a non-EOF error", err)
	}
}

func TestReadDataCorruptChecksum(t *testing.T) {
	var buf bytes.Buffer
	_, _ = writeData(&buf, []byte("k"), []byte("v"), 1)

	raw := buf.Bytes()
	raw[0] ^= 0xFF // flip a bit in the stored CRC

	_, _, _, crcOk, err := readData(bytes.NewReader(raw), math.MaxInt64)
	if err != nil {
		t.Fatalf("readData: %v", err)
	}
	if crcOk {
		t.Fatal("crcOk = true, want false after corrupting the checksum")
	}
}

// TestReadDataCorruptSizeFields covers a torn write that leaves the
// header's keySize/valueSize fields pointing past the bytes actually
// available: readData must report it the same way as a partial record
// instead of attempting an oversized allocation.
func TestReadDataCorruptSizeFields(t *testing.T) {
	var buf bytes.Buffer
	_, _ = writeData(&buf, []byte("k"), []byte("v"), 1)

	raw := buf.Bytes()
	// valueSize occupies hdr[20:28]; make it absurd.
	binary.LittleEndian.PutUint64(raw[20:28], math.MaxUint64-1)

	_, _, _, _, err := readData(bytes.NewReader(raw), int64(len(raw)-dataHeaderLen))
	if err == nil || err == io.EOF {
		t.Fatalf("err = %v, want a non-EOF error", err)
	}
}

// TestReadDataRejectsDeclaredSizeBeyondBound exercises the bound itself:
// a record whose declared sizes are internally consistent with the
// bytes present, but which exceeds the caller-supplied remaining-bytes
// ceiling, must still be rejected rather than trusted.
func TestReadDataRejectsDeclaredSizeBeyondBound(t *testing.T) {
	var buf bytes.Buffer
	_, _ = writeData(&buf, []byte("k"), []byte("v"), 1)

	_, _, _, _, err := readData(bytes.NewReader(buf.Bytes()), 1)
	if err == nil || err == io.EOF {
		t.Fatalf("err = %v, want a non-EOF error", err)
	}
}

func TestWriteReadHintRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeHint(&buf, []byte("k"), 5, 100, 7); err != nil {
		t.Fatalf("writeHint: %v", err)
	}

	ts, key, valueSize, valueOffset, err := readHint(&buf, math.MaxInt64)
	if err != nil {
		t.Fatalf("readHint: %v", err)
	}
	if ts != 7 || string(key) != "k" || valueSize != 5 || valueOffset != 100 {
		t.Errorf("got ts=%d key=%q valueSize=%d valueOffset=%d", ts, key, valueSize, valueOffset)
	}
}

// TestReadHintCorruptSizeField covers the same torn-write scenario as
// TestReadDataCorruptSizeFields, but for the hint codec path.
func TestReadHintCorruptSizeField(t *testing.T) {
	var buf bytes.Buffer
	_ = writeHint(&buf, []byte("k"), 5, 100, 7)

	raw := buf.Bytes()
	// keySize occupies hdr[8:16].
	binary.LittleEndian.PutUint64(raw[8:16], math.MaxUint64-1)

	_, _, _, _, err := readHint(bytes.NewReader(raw), int64(len(raw)-hintHeaderLen))
	if err == nil || err == io.EOF {
		t.Fatalf("err = %v, want a non-EOF error", err)
	}
}

func TestTombstoneHasNoValue(t *testing.T) {
	var buf bytes.Buffer
	_, err := writeData(&buf, []byte("k"), nil, 9)
	if err != nil {
		t.Fatalf("writeData: %v", err)
	}

	_, key, value, crcOk, err := readData(&buf, math.MaxInt64)
	if err != nil {
		t.Fatalf("readData: %v", err)
	}
	if !crcOk || string(key) != "k" || len(value) != 0 {
		t.Errorf("got key=%q value=%q crcOk=%v", key, value, crcOk)
	}
}
