package blkcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordLookup is called after each FindGetBlock.
	RecordLookup(hit bool)

	// RecordAlloc is called after each AllocBlock. reused is true when an
	// idle block was repurposed, ok is false when allocation failed.
	RecordAlloc(reused, ok bool)

	// RecordEviction is called whenever a block leaves the cache table.
	RecordEviction()

	// RecordRead is called after a device loads blocks from storage.
	RecordRead(blocks int, duration time.Duration, err error)

	// RecordWriteback is called after a device writes dirty blocks back.
	RecordWriteback(blocks int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLookup(bool)                         {}
func (NoopMetricsCollector) RecordAlloc(bool, bool)                    {}
func (NoopMetricsCollector) RecordEviction()                           {}
func (NoopMetricsCollector) RecordRead(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordWriteback(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Hits            atomic.Int64
	Misses          atomic.Int64
	Allocs          atomic.Int64
	AllocReuses     atomic.Int64
	AllocFailures   atomic.Int64
	Evictions       atomic.Int64
	ReadCount       atomic.Int64
	ReadBlocks      atomic.Int64
	ReadErrors      atomic.Int64
	ReadTotalNanos  atomic.Int64
	WritebackCount  atomic.Int64
	WritebackBlocks atomic.Int64
	WritebackErrors atomic.Int64
	WritebackNanos  atomic.Int64
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(hit bool) {
	if hit {
		b.Hits.Add(1)
	} else {
		b.Misses.Add(1)
	}
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(reused, ok bool) {
	if !ok {
		b.AllocFailures.Add(1)
		return
	}
	b.Allocs.Add(1)
	if reused {
		b.AllocReuses.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction() {
	b.Evictions.Add(1)
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(blocks int, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadBlocks.Add(int64(blocks))
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordWriteback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWriteback(blocks int, duration time.Duration, err error) {
	b.WritebackCount.Add(1)
	b.WritebackBlocks.Add(int64(blocks))
	b.WritebackNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WritebackErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Hits:              b.Hits.Load(),
		Misses:            b.Misses.Load(),
		HitRatio:          b.hitRatio(),
		Allocs:            b.Allocs.Load(),
		AllocReuses:       b.AllocReuses.Load(),
		AllocFailures:     b.AllocFailures.Load(),
		Evictions:         b.Evictions.Load(),
		ReadCount:         b.ReadCount.Load(),
		ReadBlocks:        b.ReadBlocks.Load(),
		ReadErrors:        b.ReadErrors.Load(),
		WritebackCount:    b.WritebackCount.Load(),
		WritebackBlocks:   b.WritebackBlocks.Load(),
		WritebackErrors:   b.WritebackErrors.Load(),
		WritebackAvgNanos: b.getAvgWritebackNanos(),
	}
}

func (b *BasicMetricsCollector) hitRatio() float64 {
	hits := b.Hits.Load()
	total := hits + b.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func (b *BasicMetricsCollector) getAvgWritebackNanos() int64 {
	count := b.WritebackCount.Load()
	if count == 0 {
		return 0
	}
	return b.WritebackNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Hits              int64
	Misses            int64
	HitRatio          float64
	Allocs            int64
	AllocReuses       int64
	AllocFailures     int64
	Evictions         int64
	ReadCount         int64
	ReadBlocks        int64
	ReadErrors        int64
	WritebackCount    int64
	WritebackBlocks   int64
	WritebackErrors   int64
	WritebackAvgNanos int64
}
