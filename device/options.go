package device

import (
	"fmt"

	"github.com/hupe1980/blkcache"
)

const (
	// DefaultBlockSize is the block size used without WithBlockSize.
	DefaultBlockSize = 4096
	// DefaultCacheSize is the number of cached blocks without WithCacheSize.
	DefaultCacheSize = 16

	// MinBlockSize is the smallest supported block size.
	MinBlockSize = 512
	// MinCacheSize is the smallest supported cache size.
	MinCacheSize = 5
)

type options struct {
	blockSize int
	cacheSize int
	name      string
	logger    *blkcache.Logger
	metrics   blkcache.MetricsCollector
	ioLimit   int64
	memLimit  int64
}

func defaultOptions() options {
	return options{
		blockSize: DefaultBlockSize,
		cacheSize: DefaultCacheSize,
		logger:    blkcache.NoopLogger(),
		metrics:   blkcache.NoopMetricsCollector{},
	}
}

func (o *options) validate() error {
	if o.blockSize < MinBlockSize {
		return fmt.Errorf("%w: block size %d is below %d bytes", ErrInvalidConfig, o.blockSize, MinBlockSize)
	}
	if o.cacheSize < MinCacheSize {
		return fmt.Errorf("%w: cache size %d is below %d blocks", ErrInvalidConfig, o.cacheSize, MinCacheSize)
	}
	if o.ioLimit < 0 || o.memLimit < 0 {
		return fmt.Errorf("%w: negative resource limit", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Device.
type Option func(*options)

// WithBlockSize sets the block size in bytes. Default: 4096, minimum 512.
func WithBlockSize(n int) Option {
	return func(o *options) { o.blockSize = n }
}

// WithCacheSize sets the number of blocks the cache holds. Default: 16,
// minimum 5.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithName tags every log record with the device name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger routes device and cache diagnostics to l.
func WithLogger(l *blkcache.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = blkcache.NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures the collector receiving cache and I/O events.
func WithMetrics(mc blkcache.MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = blkcache.NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithIOLimit throttles writeback to bytesPerSec. 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) { o.ioLimit = bytesPerSec }
}

// WithMemoryLimit caps the bytes held by cache buffers. When the budget is
// exhausted before the cache is full, allocations behave as if the cache
// were full. 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) { o.memLimit = bytes }
}
