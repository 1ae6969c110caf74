package blkcache

import (
	"github.com/lpabon/godbc"
)

// Block is a fixed-size in-memory buffer cached on behalf of a block device.
//
// Blocks are created and repurposed only by a Cache. A caller holding a
// reference (obtained from FindGetBlock, AllocBlock, GetLRUBlock or
// GetDirtyBlock) owns the right to mutate the buffer and the flags until it
// hands the block back with PutBlock.
type Block struct {
	owner    *Cache
	id       uint64
	buf      []byte
	refCount int
	dirty    bool
	uptodate bool

	// Idle queue linkage. Maintained by the owning Cache only.
	queue      queueID
	prev, next *Block
}

func newBlock(owner *Cache, id uint64, size int) *Block {
	godbc.Require(size > 0, "block size must be positive", size)

	return &Block{
		owner: owner,
		id:    id,
		buf:   make([]byte, size),
	}
}

// ID returns the device block number this buffer currently caches.
func (b *Block) ID() uint64 { return b.id }

// Size returns the buffer size in bytes.
func (b *Block) Size() int { return len(b.buf) }

// Buffer returns the block's buffer. The slice aliases the cached data.
func (b *Block) Buffer() []byte { return b.buf }

// Owner returns the cache the block belongs to, or nil once detached.
func (b *Block) Owner() *Cache { return b.owner }

// RefCount returns the number of outstanding references.
func (b *Block) RefCount() int { return b.refCount }

// IsDirty reports whether the buffer holds modifications not yet persisted.
func (b *Block) IsDirty() bool { return b.dirty }

// SetDirty marks the buffer as modified.
func (b *Block) SetDirty() { b.dirty = true }

// ClearDirty marks the buffer as persisted.
func (b *Block) ClearDirty() { b.dirty = false }

// IsUptodate reports whether the buffer reflects validated device content.
func (b *Block) IsUptodate() bool { return b.uptodate }

// SetUptodate marks the buffer content as valid.
func (b *Block) SetUptodate() { b.uptodate = true }

// ClearUptodate marks the buffer content as untrusted.
func (b *Block) ClearUptodate() { b.uptodate = false }

func (b *Block) refInc() {
	b.refCount++
}

func (b *Block) refDec() {
	godbc.Require(b.refCount > 0, "reference count cannot be decremented below 0", b.id)

	if b.dirty {
		b.logger().LogRefDecDirty(b.id, b.refCount)
	}
	b.refCount--
}

// move reassigns the block to owner under id and resets its state. The
// caller must have taken the block off any idle queue beforehand.
func (b *Block) move(owner *Cache, id uint64) {
	godbc.Require(b.queue == queueNone, "block must not be queued while its identity changes", b.id)

	l := b.logger()
	if b.owner == nil && owner != nil {
		l = owner.logger
	}
	if b.refCount != 0 || b.dirty {
		l.LogMoveActive(b.id, id, b.refCount, b.dirty)
	}

	b.owner = owner
	b.id = id
	b.refCount = 0
	b.dirty = false
	b.uptodate = false
}

func (b *Block) logger() *Logger {
	if b.owner != nil && b.owner.logger != nil {
		return b.owner.logger
	}
	return noopLogger
}
