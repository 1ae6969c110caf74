package blkcache

import "github.com/lpabon/godbc"

// queueID tags which idle queue a block is linked into.
type queueID uint8

const (
	queueNone queueID = iota
	queueLRU
	queueDirty
)

func (q queueID) String() string {
	switch q {
	case queueLRU:
		return "lru"
	case queueDirty:
		return "dirty"
	default:
		return "none"
	}
}

// blockQueue is an intrusive FIFO of idle blocks threaded through
// Block.prev/next. The oldest released block sits at the head.
type blockQueue struct {
	id   queueID
	head *Block
	tail *Block
	len  int
}

func newBlockQueue(id queueID) blockQueue {
	return blockQueue{id: id}
}

// Len returns the number of queued blocks.
func (q *blockQueue) Len() int {
	return q.len
}

// front returns the oldest block without unlinking it.
func (q *blockQueue) front() *Block {
	return q.head
}

func (q *blockQueue) contains(b *Block) bool {
	return b.queue == q.id
}

// pushBack appends b at the tail. A block can sit on at most one queue.
func (q *blockQueue) pushBack(b *Block) {
	godbc.Require(b.queue == queueNone, "block is already queued", b.id, b.queue.String())

	b.next = nil
	b.prev = q.tail
	if q.tail != nil {
		q.tail.next = b
	} else {
		q.head = b
	}
	q.tail = b
	b.queue = q.id
	q.len++
}

// remove unlinks b in O(1).
func (q *blockQueue) remove(b *Block) {
	godbc.Require(q.contains(b), "block is not on this queue", b.id, q.id.String())

	if b.prev != nil {
		b.prev.next = b.next
	} else {
		q.head = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		q.tail = b.prev
	}
	b.prev = nil
	b.next = nil
	b.queue = queueNone
	q.len--
}

// popFront unlinks and returns the head, or nil when empty.
func (q *blockQueue) popFront() *Block {
	b := q.head
	if b == nil {
		return nil
	}
	q.remove(b)
	return b
}

// reset unlinks every block.
func (q *blockQueue) reset() {
	for b := q.head; b != nil; {
		next := b.next
		b.prev = nil
		b.next = nil
		b.queue = queueNone
		b = next
	}
	q.head = nil
	q.tail = nil
	q.len = 0
}
