package core

import (
	"os"
	"testing"
)

// SetupTempDB opens an Engine in a fresh temp directory and registers
// cleanup with tb. The directory lock is disabled so tests can freely
// reopen the same path from a second handle after Close.
func SetupTempDB(tb testing.TB, opts ...Option) (db *Engine, dir string) {
	dir, err := os.MkdirTemp("", "tinkv_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}

	opts = append([]Option{WithoutDirectoryLock()}, opts...)

	db, err = Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q) failed: %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = db.Close()
		_ = os.RemoveAll(dir)
	})

	return db, dir
}
