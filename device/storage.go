package device

import "context"

// BlockData is one block handed to Storage.WriteBlocks.
type BlockData struct {
	ID   uint64
	Data []byte
}

// Storage is the raw, uncached block store behind a Device. Blocks are
// addressed by ID; every buffer is exactly one block long.
//
// Implementations need not be safe for concurrent use; Device serializes
// access.
type Storage interface {
	// Open prepares the storage for I/O. Calling Open twice is a no-op.
	Open(ctx context.Context) error
	// ReadBlock fills p with block id. Blocks never written read as zeros.
	ReadBlock(ctx context.Context, id uint64, p []byte) error
	// WriteBlocks persists blocks. Blocks arrive sorted by ID.
	WriteBlocks(ctx context.Context, blocks []BlockData) error
	// Sync makes previous writes durable.
	Sync(ctx context.Context) error
	// Close releases the storage.
	Close() error
}

// Locker is implemented by storages that can exclude other processes or
// hosts from the same backing store.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}
