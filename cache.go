package blkcache

import (
	"maps"
	"slices"

	"github.com/hupe1980/blkcache/resource"
	"github.com/lpabon/godbc"
)

// Cache is a fixed-capacity cache of fixed-size blocks keyed by device block
// number.
//
// Every cached block is either active (referenced by at least one caller) or
// idle. Idle blocks wait on exactly one of two FIFO queues: the LRU queue
// holds clean blocks that may be repurposed, the dirty queue holds modified
// blocks that must be written back before their buffer can be reused.
//
// Cache performs no I/O and no locking. Callers serialize access, usually
// through the device lock.
type Cache struct {
	blockSize int
	capacity  int

	table map[uint64]*Block
	lru   blockQueue
	dirty blockQueue

	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller
}

// Stats is a snapshot of cache occupancy.
type Stats struct {
	Count      int
	Active     int
	LRUCount   int
	DirtyCount int
	Capacity   int
	BlockSize  int
}

// New creates a cache holding at most capacity blocks of blockSize bytes.
// It panics if either parameter is not positive.
func New(blockSize, capacity int, optFns ...Option) *Cache {
	godbc.Require(blockSize > 0, "block size must be greater than 0", blockSize)
	godbc.Require(capacity > 0, "block limit must be greater than 0", capacity)

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Cache{
		blockSize: blockSize,
		capacity:  capacity,
		table:     make(map[uint64]*Block, capacity),
		lru:       newBlockQueue(queueLRU),
		dirty:     newBlockQueue(queueDirty),
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
		resources: opts.resources,
	}
}

// BlockSize returns the size of every block in bytes.
func (c *Cache) BlockSize() int { return c.blockSize }

// Capacity returns the maximum number of blocks the cache holds.
func (c *Cache) Capacity() int { return c.capacity }

// Count returns the number of blocks in the cache, active and idle.
func (c *Cache) Count() int { return len(c.table) }

// LRUCount returns the number of idle clean blocks.
func (c *Cache) LRUCount() int { return c.lru.Len() }

// DirtyCount returns the number of idle dirty blocks awaiting writeback.
func (c *Cache) DirtyCount() int { return c.dirty.Len() }

// IsFull reports whether an allocation of a new id would fail. Idle dirty
// blocks are never evicted, so they do not count as headroom.
func (c *Cache) IsFull() bool {
	return len(c.table) >= c.capacity && c.lru.Len() == 0
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	return Stats{
		Count:      len(c.table),
		Active:     len(c.table) - c.lru.Len() - c.dirty.Len(),
		LRUCount:   c.lru.Len(),
		DirtyCount: c.dirty.Len(),
		Capacity:   c.capacity,
		BlockSize:  c.blockSize,
	}
}

// FindGetBlock returns the cached block for id with its reference count
// incremented, or nil on a miss. An idle block leaves its queue.
// The caller must release the block with PutBlock.
func (c *Cache) FindGetBlock(id uint64) *Block {
	b := c.lookup(id)
	if b == nil {
		c.metrics.RecordLookup(false)
		return nil
	}

	if b.refCount == 0 {
		c.unqueue(b)
	}
	b.refInc()

	c.metrics.RecordLookup(true)
	return b
}

// PutBlock releases a reference obtained from this cache. When the last
// reference goes away the block becomes idle: a block that never became
// uptodate is dropped from the cache, a dirty block joins the dirty queue and
// a clean one joins the LRU queue.
//
// It panics if b does not belong to this cache or is not referenced.
func (c *Cache) PutBlock(b *Block) {
	godbc.Require(b != nil, "nil block")
	godbc.Require(c.contains(b), "block does not belong to this cache", b.id)

	b.refDec()
	if b.refCount > 0 {
		return
	}

	switch {
	case !b.uptodate:
		c.logger.LogEvict(b.id, b.id, false)
		c.detach(b)
	case b.dirty:
		c.dirty.pushBack(b)
	default:
		c.lru.pushBack(b)
	}
}

// AllocBlock returns a block for id holding one reference, or nil if none
// can be provided. A fresh or repurposed block is not uptodate; its buffer
// must be loaded or fully overwritten before SetUptodate.
//
// Below capacity a fresh zero-filled block is created, unless id is already
// cached. At capacity, or when the memory budget denies a fresh buffer, the
// oldest idle clean block is repurposed; dirty blocks
// are never evicted, so AllocBlock fails until the caller has drained the
// dirty queue.
func (c *Cache) AllocBlock(id uint64) *Block {
	if len(c.table) >= c.capacity {
		return c.allocEvict(id)
	}

	if _, ok := c.table[id]; ok {
		c.metrics.RecordAlloc(false, false)
		return nil
	}

	if err := c.resources.AcquireMemory(int64(c.blockSize)); err != nil {
		c.logger.Debug("block allocation denied", "block", id, "error", err)
		return c.allocEvict(id)
	}

	b := newBlock(c, id, c.blockSize)
	b.refInc()
	c.insert(b)

	c.metrics.RecordAlloc(false, true)
	return b
}

func (c *Cache) allocEvict(id uint64) *Block {
	victim := c.lru.front()
	if victim == nil {
		c.metrics.RecordAlloc(false, false)
		return nil
	}

	if victim.id != id {
		if _, ok := c.table[id]; ok {
			c.metrics.RecordAlloc(false, false)
			return nil
		}
	}

	c.lru.remove(victim)
	if victim.id != id {
		c.logger.LogEvict(victim.id, id, true)
		delete(c.table, victim.id)
		victim.move(c, id)
		c.insert(victim)
		c.metrics.RecordEviction()
	}
	victim.refInc()

	c.metrics.RecordAlloc(true, true)
	return victim
}

// GetLRUBlock hands out the oldest idle clean block with one reference, or
// nil if the LRU queue is empty.
func (c *Cache) GetLRUBlock() *Block {
	return c.take(&c.lru)
}

// GetDirtyBlock hands out the oldest idle dirty block with one reference, or
// nil if the dirty queue is empty. The caller is expected to persist the
// buffer, clear the dirty flag and release the block with PutBlock, which
// then routes it to the LRU queue.
func (c *Cache) GetDirtyBlock() *Block {
	return c.take(&c.dirty)
}

// DropBlock removes an idle block from the cache and detaches it. It returns
// false if b is not cached here or is still referenced. Dropping a dirty
// block discards its modifications.
func (c *Cache) DropBlock(b *Block) bool {
	if b == nil || !c.contains(b) {
		return false
	}
	if b.refCount > 0 {
		return false
	}

	c.unqueue(b)
	c.detach(b)
	return true
}

// Close detaches every block and empties the cache. Blocks that are still
// referenced or dirty are logged and reported through a *LeakError.
func (c *Cache) Close() error {
	leak := &LeakError{}

	for _, id := range slices.Sorted(maps.Keys(c.table)) {
		b := c.table[id]
		if b.refCount > 0 || b.dirty {
			c.logger.LogLeak(id, b.refCount, b.dirty)
		}
		if b.refCount > 0 {
			leak.Referenced = append(leak.Referenced, id)
		}
		if b.dirty {
			leak.Dirty = append(leak.Dirty, id)
		}
		b.owner = nil
		b.refCount = 0
	}

	c.lru.reset()
	c.dirty.reset()
	c.resources.ReleaseMemory(int64(len(c.table)) * int64(c.blockSize))
	clear(c.table)

	if leak.empty() {
		return nil
	}
	return leak
}

func (c *Cache) take(q *blockQueue) *Block {
	b := q.popFront()
	if b == nil {
		return nil
	}
	godbc.Check(c.table[b.id] == b, "queued block missing from cache table", b.id)

	b.refInc()
	return b
}

func (c *Cache) lookup(id uint64) *Block {
	b, ok := c.table[id]
	if !ok {
		return nil
	}
	godbc.Check(b.id == id, "found a block with an inconsistent id", id, b.id)
	return b
}

func (c *Cache) contains(b *Block) bool {
	if b.owner != c {
		return false
	}
	return c.table[b.id] == b
}

func (c *Cache) insert(b *Block) {
	godbc.Require(b.owner == c, "block belongs to another cache", b.id)
	_, dup := c.table[b.id]
	godbc.Require(!dup, "block id already cached", b.id)

	c.table[b.id] = b
}

// unqueue takes an idle block off whichever queue holds it.
func (c *Cache) unqueue(b *Block) {
	switch b.queue {
	case queueLRU:
		c.lru.remove(b)
	case queueDirty:
		c.dirty.remove(b)
	default:
		godbc.Check(false, "idle block is on no queue", b.id)
	}
}

// detach removes b from the table and releases its buffer reservation.
func (c *Cache) detach(b *Block) {
	delete(c.table, b.id)
	b.move(nil, b.id)
	c.resources.ReleaseMemory(int64(c.blockSize))
	c.metrics.RecordEviction()
}
