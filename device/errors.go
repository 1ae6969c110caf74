package device

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a device or storage that is not open.
	ErrClosed = errors.New("device: not open")
	// ErrCacheExhausted is returned when no cache block can be provided even
	// after writing back the dirty queue.
	ErrCacheExhausted = errors.New("device: no cache block available")
	// ErrShortBuffer is returned when a write buffer holds fewer bytes than
	// the requested blocks.
	ErrShortBuffer = errors.New("device: buffer shorter than requested blocks")
	// ErrInvalidConfig is returned by New for out-of-range options.
	ErrInvalidConfig = errors.New("device: invalid configuration")
	// ErrNotLocked is returned by Unlock without a matching Lock.
	ErrNotLocked = errors.New("device: not locked")
	// ErrCorruptBlock is returned when stored block content cannot be used.
	ErrCorruptBlock = errors.New("device: corrupt block")
	// ErrOutOfRange is returned for block ranges past the addressable end of
	// the device or its storage.
	ErrOutOfRange = errors.New("device: block out of range")
)

// WritebackError reports dirty blocks that could not be persisted. The blocks
// stay dirty in the cache and are retried by the next Flush.
type WritebackError struct {
	IDs []uint64
	Err error
}

func (e *WritebackError) Error() string {
	return fmt.Sprintf("device: writeback of %d blocks failed: %v", len(e.IDs), e.Err)
}

func (e *WritebackError) Unwrap() error {
	return e.Err
}
