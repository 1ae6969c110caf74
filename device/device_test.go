package device

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/blkcache"
	"github.com/hupe1980/blkcache/blobstore"
	"github.com/hupe1980/blkcache/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is a Storage over a map with injectable failures.
type memStorage struct {
	mu       sync.Mutex
	blocks   map[uint64][]byte
	open     bool
	writes   [][]uint64
	syncs    int
	readErr  error
	writeErr error
	lockErr  error
	locked   bool
}

func newMemStorage() *memStorage {
	return &memStorage{blocks: make(map[uint64][]byte)}
}

func (m *memStorage) Open(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *memStorage) ReadBlock(_ context.Context, id uint64, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return m.readErr
	}
	clear(p)
	copy(p, m.blocks[id])
	return nil
}

func (m *memStorage) WriteBlocks(_ context.Context, blocks []BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	var ids []uint64
	for _, b := range blocks {
		m.blocks[b.ID] = bytes.Clone(b.Data)
		ids = append(ids, b.ID)
	}
	m.writes = append(m.writes, ids)
	return nil
}

func (m *memStorage) Sync(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func (m *memStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *memStorage) Lock(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockErr != nil {
		return m.lockErr
	}
	m.locked = true
	return nil
}

func (m *memStorage) Unlock(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}

func openTestDevice(t *testing.T, storage Storage, optFns ...Option) *Device {
	t.Helper()

	opts := append([]Option{WithBlockSize(512), WithCacheSize(5)}, optFns...)
	d, err := New(storage, opts...)
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background()))
	return d
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"block size too small", []Option{WithBlockSize(256)}},
		{"cache size too small", []Option{WithCacheSize(4)}},
		{"negative io limit", []Option{WithIOLimit(-1)}},
		{"negative memory limit", []Option{WithMemoryLimit(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newMemStorage(), tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	d, err := New(newMemStorage())
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, d.BlockSize())
	assert.Equal(t, DefaultCacheSize, d.CacheSize())
	assert.False(t, d.IsOpen())
}

func TestDevice_Closed(t *testing.T) {
	ctx := context.Background()
	d, err := New(newMemStorage(), WithBlockSize(512))
	require.NoError(t, err)

	_, err = d.BlockRead(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.BlockWrite(ctx, 0, 1, make([]byte, 512))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.Flush(ctx), ErrClosed)
	assert.ErrorIs(t, d.Lock(ctx), ErrClosed)
	assert.NoError(t, d.Close())
	assert.Equal(t, blkcache.Stats{}, d.Stats())
}

func TestDevice_OpenCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)

	require.NoError(t, d.Open(ctx))
	assert.True(t, d.IsOpen())
	assert.Same(t, storage, d.Storage())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.False(t, d.IsOpen())
	assert.False(t, storage.open)
}

func TestDevice_ReadWrite(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(4711)
	storage := newMemStorage()
	d := openTestDevice(t, storage)

	data := rng.Blocks(3, 512)
	n, err := d.BlockWrite(ctx, 10, 3, data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Writes stay in the cache until flushed.
	assert.Empty(t, storage.blocks)
	assert.Equal(t, 3, d.Stats().DirtyCount)

	got, err := d.BlockRead(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = d.BlockRead(ctx, 11, 1)
	require.NoError(t, err)
	assert.Equal(t, data[512:1024], got)

	require.NoError(t, d.Flush(ctx))
	assert.Equal(t, [][]uint64{{10, 11, 12}}, storage.writes)
	assert.Equal(t, 1, storage.syncs)
	assert.Equal(t, data[1024:], storage.blocks[12])
	assert.Zero(t, d.Stats().DirtyCount)
	assert.Equal(t, 3, d.Stats().LRUCount)

	// Unwritten blocks read as zeros.
	got, err = d.BlockRead(ctx, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 512), got)

	require.NoError(t, d.Close())
}

func TestDevice_EdgeArguments(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, newMemStorage())
	defer d.Close()

	got, err := d.BlockRead(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := d.BlockWrite(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = d.BlockWrite(ctx, 0, 2, make([]byte, 1000))
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Zero(t, n)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.BlockRead(canceled, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDevice_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	storage.blocks[3] = bytes.Repeat([]byte{3}, 512)
	mc := &blkcache.BasicMetricsCollector{}
	d := openTestDevice(t, storage, WithMetrics(mc))
	defer d.Close()

	for range 3 {
		got, err := d.BlockRead(ctx, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, storage.blocks[3], got)
	}

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.ReadCount)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestDevice_ReadErrorEvicts(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	storage.readErr = errors.New("media error")
	d := openTestDevice(t, storage)
	defer d.Close()

	_, err := d.BlockRead(ctx, 1, 1)
	assert.ErrorIs(t, err, storage.readErr)
	assert.Zero(t, d.Stats().Count)

	storage.readErr = nil
	_, err = d.BlockRead(ctx, 1, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, d.Stats().Count)
}

func TestDevice_WritebackOnPressure(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(1)
	storage := newMemStorage()
	d := openTestDevice(t, storage)
	defer d.Close()

	// Fill the cache with dirty blocks, then write one more.
	data := rng.Blocks(6, 512)
	n, err := d.BlockWrite(ctx, 0, 6, data)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	require.Len(t, storage.writes, 1)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, storage.writes[0])
	assert.Equal(t, 1, d.Stats().DirtyCount)

	got, err := d.BlockRead(ctx, 0, 6)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDevice_WritebackFailure(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)

	_, err := d.BlockWrite(ctx, 4, 2, make([]byte, 1024))
	require.NoError(t, err)

	storage.writeErr = errors.New("disk full")
	err = d.Flush(ctx)

	var wbErr *WritebackError
	require.True(t, errors.As(err, &wbErr))
	assert.Equal(t, []uint64{4, 5}, wbErr.IDs)
	assert.ErrorIs(t, err, storage.writeErr)
	assert.Equal(t, 2, d.Stats().DirtyCount)
	assert.Zero(t, storage.syncs)

	// Pressure cannot be relieved while writeback fails.
	_, err = d.BlockWrite(ctx, 10, 3, make([]byte, 3*512))
	require.NoError(t, err)
	_, err = d.BlockWrite(ctx, 20, 1, make([]byte, 512))
	assert.ErrorAs(t, err, &wbErr)

	storage.writeErr = nil
	require.NoError(t, d.Flush(ctx))
	assert.Zero(t, d.Stats().DirtyCount)
	require.NoError(t, d.Close())
}

func TestDevice_CloseReportsLostBlocks(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)

	_, err := d.BlockWrite(ctx, 1, 1, make([]byte, 512))
	require.NoError(t, err)

	storage.writeErr = errors.New("gone")
	err = d.Close()
	require.Error(t, err)

	var leak *blkcache.LeakError
	require.ErrorAs(t, err, &leak)
	assert.Equal(t, []uint64{1}, leak.Dirty)
	assert.False(t, d.IsOpen())
	assert.False(t, storage.open)
}

func TestDevice_CloseFlushes(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)

	_, err := d.BlockWrite(ctx, 2, 1, bytes.Repeat([]byte{9}, 512))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Equal(t, bytes.Repeat([]byte{9}, 512), storage.blocks[2])
	assert.Equal(t, 1, storage.syncs)
}

func TestDevice_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, newMemStorage(), WithMemoryLimit(2*512))
	defer d.Close()

	_, err := d.BlockRead(ctx, 0, 2)
	require.NoError(t, err)

	// The third buffer does not fit, but clean blocks are reused.
	_, err = d.BlockRead(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Stats().Count)
	assert.Equal(t, int64(2*512), d.resources.MemoryUsage())

	// Two dirty blocks pin the whole budget; a third write forces writeback.
	_, err = d.BlockWrite(ctx, 10, 3, make([]byte, 3*512))
	require.NoError(t, err)
}

func TestDevice_IOLimit(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, newMemStorage(), WithIOLimit(1024))
	defer d.Close()

	_, err := d.BlockWrite(ctx, 0, 4, make([]byte, 4*512))
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	// 2KB at 1KB/s cannot pass within the timeout.
	err = d.Flush(timeout)
	require.Error(t, err)
	assert.Equal(t, 4, d.Stats().DirtyCount)

	require.NoError(t, d.Flush(ctx))
	assert.Equal(t, int64(4*512), d.resources.IOBytes())
}

func TestDevice_Lock(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)
	defer d.Close()

	assert.ErrorIs(t, d.Unlock(ctx), ErrNotLocked)

	require.NoError(t, d.Lock(ctx))
	assert.True(t, storage.locked)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Lock(timeout), context.DeadlineExceeded)

	// Operations do not need the device lock.
	_, err := d.BlockRead(ctx, 0, 1)
	require.NoError(t, err)

	require.NoError(t, d.Unlock(ctx))
	assert.False(t, storage.locked)

	storage.lockErr = errors.New("held elsewhere")
	assert.ErrorIs(t, d.Lock(ctx), storage.lockErr)
	assert.ErrorIs(t, d.Unlock(ctx), ErrNotLocked)
}

func TestDevice_ConcurrentUnlock(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)
	defer d.Close()

	for range 50 {
		require.NoError(t, d.Lock(ctx))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = d.Unlock(ctx)
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Unlock did not return")
		}

		var ok, notLocked int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrNotLocked):
				notLocked++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, notLocked)
		assert.False(t, storage.locked)
	}
}

func TestDevice_LockHandoffKeepsStorageLock(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)
	defer d.Close()

	for range 50 {
		require.NoError(t, d.Lock(ctx))

		locked := make(chan error, 1)
		go func() { locked <- d.Lock(ctx) }()

		require.NoError(t, d.Unlock(ctx))
		require.NoError(t, <-locked)

		// The waiter's storage lock survives the previous holder's release.
		storage.mu.Lock()
		held := storage.locked
		storage.mu.Unlock()
		assert.True(t, held)

		require.NoError(t, d.Unlock(ctx))
	}
}

func TestDevice_RangeWrap(t *testing.T) {
	ctx := context.Background()
	d := openTestDevice(t, newMemStorage())
	defer d.Close()

	_, err := d.BlockRead(ctx, math.MaxUint64, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)

	n, err := d.BlockWrite(ctx, math.MaxUint64-1, 3, make([]byte, 3*512))
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, n)

	buf, err := d.BlockRead(ctx, math.MaxUint64, 1)
	require.NoError(t, err)
	assert.Len(t, buf, 512)

	n, err = d.BlockWrite(ctx, math.MaxUint64-1, 2, make([]byte, 2*512))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDevice_CloseWhileLocked(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	d := openTestDevice(t, storage)

	require.NoError(t, d.Lock(ctx))
	require.NoError(t, d.Close())
	assert.False(t, storage.locked)
	assert.NoError(t, d.Unlock(ctx))
}

func TestDevice_Concurrent(t *testing.T) {
	ctx := context.Background()
	storage := NewBlobStorage(blobstore.NewMemoryStore())
	d := openTestDevice(t, storage, WithCacheSize(8))

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := testutil.NewRNG(int64(w))
			for i := range 50 {
				id := uint64(w*100 + i%10)
				buf := rng.Blocks(1, 512)
				_, err := d.BlockWrite(ctx, id, 1, buf)
				assert.NoError(t, err)

				got, err := d.BlockRead(ctx, id, 1)
				assert.NoError(t, err)
				assert.Equal(t, buf, got)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, d.Close())
	assert.Len(t, storage.Blocks(), 40)
}

func TestDevice_Logging(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	storage := newMemStorage()
	storage.writeErr = errors.New("boom")

	d := openTestDevice(t, storage,
		WithName("disk0"),
		WithLogger(blkcache.NewLogger(newTextHandler(&buf))),
	)

	_, err := d.BlockWrite(ctx, 0, 1, make([]byte, 512))
	require.NoError(t, err)
	assert.Error(t, d.Flush(ctx))

	assert.Contains(t, buf.String(), "device opened")
	assert.Contains(t, buf.String(), "writeback failed")
	assert.Contains(t, buf.String(), "device=disk0")

	storage.writeErr = nil
	require.NoError(t, d.Close())
}
