package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/blkcache"
	"github.com/hupe1980/blkcache/resource"
)

// BlockDevice is a device addressed in fixed-size blocks.
type BlockDevice interface {
	Open(ctx context.Context) error
	Close() error
	BlockRead(ctx context.Context, id uint64, count int) ([]byte, error)
	BlockWrite(ctx context.Context, id uint64, count int, buf []byte) (int, error)
	Flush(ctx context.Context) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

var _ BlockDevice = (*Device)(nil)

// Device is a BlockDevice that routes all I/O through a blkcache.Cache in
// front of a Storage. Writes stay in the cache until Flush, Close or cache
// pressure writes them back.
//
// Device is safe for concurrent use. Every operation holds an internal mutex
// while it touches the cache. Lock and Unlock are an advisory, device-wide
// lock: BlockRead, BlockWrite and Flush do not check it, so it only excludes
// other Lock callers (and, through the storage Locker, other processes).
type Device struct {
	storage   Storage
	opts      options
	logger    *blkcache.Logger
	resources *resource.Controller

	mu    sync.Mutex // guards cache
	cache *blkcache.Cache

	lockCh      chan struct{}
	heldMu      sync.Mutex
	storageHeld bool // storage Locker acquired by Lock
}

// New creates a device on storage. Nothing is opened until Open.
func New(storage Storage, optFns ...Option) (*Device, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := opts.logger
	if opts.name != "" {
		logger = logger.WithDevice(opts.name)
	}

	return &Device{
		storage: storage,
		opts:    opts,
		logger:  logger,
		resources: resource.NewController(resource.Config{
			MemoryLimitBytes:   opts.memLimit,
			IOLimitBytesPerSec: opts.ioLimit,
		}),
		lockCh: make(chan struct{}, 1),
	}, nil
}

// OpenFile opens (creating if missing) a file-backed device at path.
func OpenFile(ctx context.Context, path string, optFns ...Option) (*Device, error) {
	d, err := New(NewFileStorage(path), optFns...)
	if err != nil {
		return nil, err
	}
	if err := d.Open(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// BlockSize returns the block size in bytes.
func (d *Device) BlockSize() int { return d.opts.blockSize }

// CacheSize returns the number of blocks the cache holds.
func (d *Device) CacheSize() int { return d.opts.cacheSize }

// Storage returns the backing storage.
func (d *Device) Storage() Storage { return d.storage }

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache != nil
}

// Stats returns a snapshot of cache occupancy. It is zero while closed.
func (d *Device) Stats() blkcache.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache == nil {
		return blkcache.Stats{}
	}
	return d.cache.Stats()
}

// Open opens the storage and creates the block cache. Opening an open
// device is a no-op.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != nil {
		return nil
	}

	err := d.storage.Open(ctx)
	d.logger.LogOpen(ctx, d.opts.blockSize, d.opts.cacheSize, err)
	if err != nil {
		return err
	}

	d.cache = blkcache.New(d.opts.blockSize, d.opts.cacheSize,
		blkcache.WithLogger(d.logger),
		blkcache.WithMetrics(d.opts.metrics),
		blkcache.WithResourceController(d.resources),
	)
	return nil
}

// Close flushes the cache, tears it down and closes the storage. Closing a
// closed device is a no-op. The device is closed even when an error is
// returned; unflushed blocks are then lost and reported in the error.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache == nil {
		return nil
	}

	ctx := context.Background()
	flushErr := d.flush(ctx)
	leakErr := d.cache.Close()
	d.cache = nil

	// A storage lock still held by a caller is released before the storage
	// goes away; the caller's Unlock then only frees the device lock.
	unlockErr := d.releaseStorageLock(ctx)

	err := errors.Join(flushErr, leakErr, unlockErr, d.storage.Close())
	d.logger.LogClose(ctx, err)
	return err
}

// BlockRead returns count blocks starting at id. Blocks missing from the
// cache are loaded from storage.
func (d *Device) BlockRead(ctx context.Context, id uint64, count int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache == nil {
		return nil, ErrClosed
	}
	if count <= 0 {
		return []byte{}, nil
	}
	if err := checkRange(id, count); err != nil {
		return nil, err
	}

	bs := d.opts.blockSize
	out := make([]byte, count*bs)
	for i := range count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := d.readBlock(ctx, id+uint64(i))
		if err != nil {
			return nil, err
		}
		copy(out[i*bs:], b.Buffer())
		d.cache.PutBlock(b)
	}
	return out, nil
}

// BlockWrite stores count blocks from buf starting at id in the cache and
// returns the number of blocks written. The blocks reach storage on the next
// writeback.
func (d *Device) BlockWrite(ctx context.Context, id uint64, count int, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache == nil {
		return 0, ErrClosed
	}
	if count <= 0 {
		return 0, nil
	}
	if err := checkRange(id, count); err != nil {
		return 0, err
	}

	bs := d.opts.blockSize
	if len(buf) < count*bs {
		return 0, ErrShortBuffer
	}

	for i := range count {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		blkID := id + uint64(i)
		b := d.cache.FindGetBlock(blkID)
		if b == nil {
			var err error
			if b, err = d.allocBlock(ctx, blkID); err != nil {
				return i, err
			}
		}

		// Whole-block writes never need the old content.
		copy(b.Buffer(), buf[i*bs:(i+1)*bs])
		b.SetUptodate()
		b.SetDirty()
		d.cache.PutBlock(b)
	}
	return count, nil
}

// Flush writes every dirty block back and syncs the storage.
func (d *Device) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache == nil {
		return ErrClosed
	}
	return d.flush(ctx)
}

// Lock acquires the device-wide lock, waiting until it is free or ctx is
// done. If the storage implements Locker its lock is taken as well; how long
// that waits is up to the Locker (FileStorage and s3.DDBLock poll until ctx
// is done).
func (d *Device) Lock(ctx context.Context) error {
	if !d.IsOpen() {
		return ErrClosed
	}

	select {
	case d.lockCh <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if l, ok := d.storage.(Locker); ok {
		d.heldMu.Lock()
		defer d.heldMu.Unlock()

		if err := l.Lock(ctx); err != nil {
			<-d.lockCh
			return err
		}
		d.storageHeld = true
	}
	return nil
}

// Unlock releases the device-wide lock.
func (d *Device) Unlock(ctx context.Context) error {
	// heldMu spans the token receive and the storage release, so the next
	// Lock cannot take the storage lock until this one has dropped it.
	d.heldMu.Lock()
	defer d.heldMu.Unlock()

	select {
	case <-d.lockCh:
	default:
		return ErrNotLocked
	}
	return d.releaseStorageLockLocked(ctx)
}

// checkRange rejects count blocks from id that would wrap past the largest
// block id.
func checkRange(id uint64, count int) error {
	if uint64(count-1) > math.MaxUint64-id {
		return fmt.Errorf("%w: %d blocks from %d", ErrOutOfRange, count, id)
	}
	return nil
}

func (d *Device) releaseStorageLock(ctx context.Context) error {
	d.heldMu.Lock()
	defer d.heldMu.Unlock()

	return d.releaseStorageLockLocked(ctx)
}

// releaseStorageLockLocked requires heldMu.
func (d *Device) releaseStorageLockLocked(ctx context.Context) error {
	if !d.storageHeld {
		return nil
	}
	d.storageHeld = false
	return d.storage.(Locker).Unlock(ctx)
}

// readBlock returns block id referenced and uptodate.
func (d *Device) readBlock(ctx context.Context, id uint64) (*blkcache.Block, error) {
	b := d.cache.FindGetBlock(id)
	if b == nil {
		var err error
		if b, err = d.allocBlock(ctx, id); err != nil {
			return nil, err
		}
	}
	if b.IsUptodate() {
		return b, nil
	}

	start := time.Now()
	err := d.storage.ReadBlock(ctx, id, b.Buffer())
	d.opts.metrics.RecordRead(1, time.Since(start), err)
	d.logger.LogRead(ctx, id, err)
	if err != nil {
		// Not uptodate, so the release evicts it.
		d.cache.PutBlock(b)
		return nil, err
	}

	b.SetUptodate()
	return b, nil
}

// allocBlock allocates a cache block for id. When the cache is full of
// dirty blocks it writes them back once and retries.
func (d *Device) allocBlock(ctx context.Context, id uint64) (*blkcache.Block, error) {
	if b := d.cache.AllocBlock(id); b != nil {
		return b, nil
	}
	if d.cache.DirtyCount() == 0 {
		return nil, ErrCacheExhausted
	}

	if err := d.writeback(ctx); err != nil {
		return nil, err
	}
	if b := d.cache.AllocBlock(id); b != nil {
		return b, nil
	}
	return nil, ErrCacheExhausted
}

func (d *Device) flush(ctx context.Context) error {
	if err := d.writeback(ctx); err != nil {
		return err
	}
	return d.storage.Sync(ctx)
}

// writeback drains the dirty queue into one storage batch. On failure the
// blocks return to the dirty queue still dirty.
func (d *Device) writeback(ctx context.Context) error {
	var batch []*blkcache.Block
	for b := d.cache.GetDirtyBlock(); b != nil; b = d.cache.GetDirtyBlock() {
		batch = append(batch, b)
	}
	if len(batch) == 0 {
		return nil
	}

	slices.SortFunc(batch, func(a, b *blkcache.Block) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})

	blocks := make([]BlockData, len(batch))
	for i, b := range batch {
		blocks[i] = BlockData{ID: b.ID(), Data: b.Buffer()}
	}

	start := time.Now()
	err := d.resources.AcquireIO(ctx, len(batch)*d.opts.blockSize)
	if err == nil {
		err = d.storage.WriteBlocks(ctx, blocks)
	}
	d.opts.metrics.RecordWriteback(len(batch), time.Since(start), err)
	d.logger.LogWriteback(ctx, len(batch), err)

	if err != nil {
		ids := make([]uint64, len(batch))
		for i, b := range batch {
			ids[i] = b.ID()
			d.cache.PutBlock(b)
		}
		return &WritebackError{IDs: ids, Err: err}
	}

	for _, b := range batch {
		b.ClearDirty()
		d.cache.PutBlock(b)
	}
	return nil
}
