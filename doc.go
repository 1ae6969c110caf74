// Package blkcache provides a fixed-capacity, reference-counted block cache
// for block devices.
//
// A Cache holds at most Capacity blocks of BlockSize bytes, keyed by device
// block number. It sits between a filesystem-like consumer and raw storage,
// but performs no I/O itself: the device layer (package device) loads and
// persists buffers and updates the block flags.
//
// # Block Lifecycle
//
//	b := c.FindGetBlock(id)          // hit: +1 reference, leaves idle queue
//	if b == nil {
//	    b = c.AllocBlock(id)         // miss: fresh or repurposed buffer
//	    // ... load b.Buffer() from the device
//	    b.SetUptodate()
//	}
//	copy(b.Buffer(), data)
//	b.SetDirty()
//	c.PutBlock(b)                    // idle: joins the dirty queue
//
// On release a block with no references left is routed by its flags:
//
//	uptodate=false          -> dropped from the cache
//	uptodate, dirty         -> dirty queue (awaiting writeback)
//	uptodate, clean         -> LRU queue (evictable)
//
// # Eviction
//
// AllocBlock at capacity repurposes the oldest block on the LRU queue. Dirty
// blocks are never evicted; when only dirty blocks are idle the cache is full
// and the caller must drain GetDirtyBlock, persist, ClearDirty and PutBlock.
//
// # Concurrency
//
// Cache is not safe for concurrent use. Callers serialize access, usually
// through the device lock.
//
// # Contract Violations
//
// Releasing a foreign block, releasing a block with no references, or
// constructing a cache with a non-positive size are programming errors and
// panic. Expected conditions (miss, full cache, duplicate id, referenced
// block on drop) are reported as nil or false results.
package blkcache
