package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/blkcache/blobstore"
	"github.com/hupe1980/blkcache/internal/compress"
	"golang.org/x/sync/errgroup"
)

// Compression selects how BlobStorage encodes block payloads.
type Compression = compress.Type

const (
	// CompressionNone stores blocks raw.
	CompressionNone = compress.None
	// CompressionLZ4 favors speed.
	CompressionLZ4 = compress.LZ4
	// CompressionZSTD favors ratio.
	CompressionZSTD = compress.ZSTD
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(name string) (Compression, error) {
	return compress.Parse(name)
}

const bitmapName = "blocks.bitmap"

type blobOptions struct {
	prefix      string
	compression Compression
	concurrency int
	locker      Locker
}

// BlobOption configures a BlobStorage.
type BlobOption func(*blobOptions)

// WithPrefix places every object of the device under prefix.
func WithPrefix(prefix string) BlobOption {
	return func(o *blobOptions) { o.prefix = prefix }
}

// WithCompression sets the codec for block objects. Default: LZ4.
func WithCompression(c Compression) BlobOption {
	return func(o *blobOptions) { o.compression = c }
}

// WithConcurrency bounds parallel uploads per writeback. Default: 8.
func WithConcurrency(n int) BlobOption {
	return func(o *blobOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLocker guards the device prefix with l (for example an s3.DDBLock)
// whenever the device is locked. Device.Lock waits as long as l.Lock does;
// s3.DDBLock polls until ctx is done.
func WithLocker(l Locker) BlobOption {
	return func(o *blobOptions) { o.locker = l }
}

// BlobStorage stores each block as one object named <prefix>/blk/<id as
// 16 hex digits>. A bitmap of written block IDs is kept in
// <prefix>/blocks.bitmap, so reads of never written blocks need no request.
type BlobStorage struct {
	store blobstore.BlobStore
	opts  blobOptions

	mu          sync.Mutex
	open        bool
	present     *roaring64.Bitmap
	bitmapDirty bool
}

var (
	_ Storage = (*BlobStorage)(nil)
	_ Locker  = (*BlobStorage)(nil)
)

// NewBlobStorage returns storage keeping blocks in store.
func NewBlobStorage(store blobstore.BlobStore, optFns ...BlobOption) *BlobStorage {
	opts := blobOptions{
		compression: CompressionLZ4,
		concurrency: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &BlobStorage{
		store:   store,
		opts:    opts,
		present: roaring64.New(),
	}
}

func (s *BlobStorage) blockName(id uint64) string {
	return path.Join(s.opts.prefix, "blk", fmt.Sprintf("%016x", id))
}

func (s *BlobStorage) bitmapName() string {
	return path.Join(s.opts.prefix, bitmapName)
}

// Open loads the bitmap of written blocks. Without a bitmap it is rebuilt
// by listing the block objects.
func (s *BlobStorage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	present := roaring64.New()
	data, err := blobstore.ReadAll(ctx, s.store, s.bitmapName())
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		if err := s.scan(ctx, present); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("device: load block bitmap: %w", err)
	default:
		if _, err := present.ReadFrom(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: block bitmap: %v", ErrCorruptBlock, err)
		}
	}

	s.present = present
	s.bitmapDirty = false
	s.open = true
	return nil
}

func (s *BlobStorage) scan(ctx context.Context, present *roaring64.Bitmap) error {
	dir := path.Join(s.opts.prefix, "blk") + "/"

	names, err := s.store.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("device: list blocks: %w", err)
	}
	for _, name := range names {
		id, err := strconv.ParseUint(strings.TrimPrefix(name, dir), 16, 64)
		if err != nil {
			continue
		}
		present.Add(id)
	}
	return nil
}

// Blocks returns the IDs of all written blocks in ascending order.
func (s *BlobStorage) Blocks() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present.ToArray()
}

// ReadBlock fetches and decodes block id into p.
func (s *BlobStorage) ReadBlock(ctx context.Context, id uint64, p []byte) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrClosed
	}
	written := s.present.Contains(id)
	s.mu.Unlock()

	if !written {
		clear(p)
		return nil
	}

	frame, err := blobstore.ReadAll(ctx, s.store, s.blockName(id))
	if errors.Is(err, blobstore.ErrNotFound) {
		clear(p)
		return nil
	}
	if err != nil {
		return fmt.Errorf("device: read block %d: %w", id, err)
	}

	data, err := compress.Decode(frame)
	if err != nil {
		return fmt.Errorf("%w: block %d: %v", ErrCorruptBlock, id, err)
	}
	if len(data) != len(p) {
		return fmt.Errorf("%w: block %d holds %d bytes, want %d", ErrCorruptBlock, id, len(data), len(p))
	}

	copy(p, data)
	return nil
}

// WriteBlocks uploads blocks in parallel. Blocks that were uploaded are
// recorded even when others fail.
func (s *BlobStorage) WriteBlocks(ctx context.Context, blocks []BlockData) error {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return ErrClosed
	}

	done := make([]bool, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.concurrency)
	for i, b := range blocks {
		g.Go(func() error {
			frame, err := compress.Encode(b.Data, s.opts.compression)
			if err != nil {
				return err
			}
			if err := s.store.Put(gctx, s.blockName(b.ID), frame); err != nil {
				return fmt.Errorf("device: write block %d: %w", b.ID, err)
			}
			done[i] = true
			return nil
		})
	}
	err := g.Wait()

	s.mu.Lock()
	for i, b := range blocks {
		if done[i] && !s.present.Contains(b.ID) {
			s.present.Add(b.ID)
			s.bitmapDirty = true
		}
	}
	s.mu.Unlock()

	return err
}

// Sync persists the bitmap of written blocks. Block objects are durable as
// soon as their upload returns.
func (s *BlobStorage) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrClosed
	}
	if !s.bitmapDirty {
		return nil
	}

	data, err := s.present.ToBytes()
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, s.bitmapName(), data); err != nil {
		return fmt.Errorf("device: store block bitmap: %w", err)
	}
	s.bitmapDirty = false
	return nil
}

// Close marks the storage closed. Device.Close syncs first.
func (s *BlobStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false
	return nil
}

// Lock acquires the configured Locker, if any.
func (s *BlobStorage) Lock(ctx context.Context) error {
	if s.opts.locker == nil {
		return nil
	}
	return s.opts.locker.Lock(ctx)
}

// Unlock releases the configured Locker, if any.
func (s *BlobStorage) Unlock(ctx context.Context) error {
	if s.opts.locker == nil {
		return nil
	}
	return s.opts.locker.Unlock(ctx)
}
