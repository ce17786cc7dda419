package core

import "go.uber.org/zap"

const (
	defaultMaxKeySize          = 1 << 10       // 1 KiB
	defaultMaxValueSize        = 64 << 10      // 64 KiB
	defaultMaxDataFileSize     = 2 << 30       // 2 GiB
	defaultCompactionThreshold = 2 << 30       // 2 GiB
)

type config struct {
	maxKeySize          uint64
	maxValueSize        uint64
	maxDataFileSize     int64
	sync                bool
	compactionThreshold uint64
	logger              *zap.SugaredLogger
	disableLock         bool
}

func defaultConfig() config {
	return config{
		maxKeySize:          defaultMaxKeySize,
		maxValueSize:        defaultMaxValueSize,
		maxDataFileSize:     defaultMaxDataFileSize,
		sync:                false,
		compactionThreshold: defaultCompactionThreshold,
		logger:              zap.NewNop().Sugar(),
	}
}

// Option configures an Engine at Open time.
type Option func(*config)

// WithMaxKeySize rejects keys longer than n bytes with ErrKeyTooLarge.
// Default 1 KiB.
func WithMaxKeySize(n uint64) Option {
	return func(c *config) { c.maxKeySize = n }
}

// WithMaxValueSize rejects values longer than n bytes with
// ErrValueTooLarge. Default 64 KiB.
func WithMaxValueSize(n uint64) Option {
	return func(c *config) { c.maxValueSize = n }
}

// WithMaxDataFileSize sets the threshold at which the active segment
// rotates to a fresh one. Default 2 GiB.
func WithMaxDataFileSize(n int64) Option {
	return func(c *config) { c.maxDataFileSize = n }
}

// WithSync makes every Set/Remove fsync the active segment before
// returning. Default false.
func WithSync(b bool) Option {
	return func(c *config) { c.sync = b }
}

// WithCompactionThreshold sets the stale-byte count that triggers an
// automatic, synchronous compaction from Set/Remove. Default 2 GiB —
// deliberately the same order of magnitude as the default
// MaxDataFileSize, not tuned down for fast local testing; callers that
// want eager compaction in tests should set this explicitly.
func WithCompactionThreshold(n uint64) Option {
	return func(c *config) { c.compactionThreshold = n }
}

// WithLogger supplies a structured logger for recovery and compaction
// diagnostics. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithoutDirectoryLock disables the best-effort advisory directory
// lock taken by Open. Intended for tests that open the same directory
// from multiple Engine handles sequentially on platforms where flock
// semantics are unavailable.
func WithoutDirectoryLock() Option {
	return func(c *config) { c.disableLock = true }
}
