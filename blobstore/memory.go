package blobstore

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps blobs in a map. It counts the requests it serves so
// tests can check how much traffic a caller generates.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	opens, puts, deletes, lists atomic.Int64
}

// MemoryStats counts requests served by a MemoryStore.
type MemoryStats struct {
	Blobs   int
	Bytes   int64
	Opens   int64
	Puts    int64
	Deletes int64
	Lists   int64
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Open returns a handle on the current content of name. Later Puts do not
// affect an open handle.
func (m *MemoryStore) Open(ctx context.Context, name string) (Blob, error) {
	m.opens.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return memoryBlob(data), nil
}

// Put replaces name with a copy of data.
func (m *MemoryStore) Put(ctx context.Context, name string, data []byte) error {
	m.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	data = slices.Clone(data)

	m.mu.Lock()
	m.blobs[name] = data
	m.mu.Unlock()
	return nil
}

// Delete removes name.
func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.deletes.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

// List returns the sorted names starting with prefix.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.lists.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	slices.Sort(names)
	return names, nil
}

// Stats returns the stored volume and request counters.
func (m *MemoryStore) Stats() MemoryStats {
	m.mu.RLock()
	st := MemoryStats{Blobs: len(m.blobs)}
	for _, data := range m.blobs {
		st.Bytes += int64(len(data))
	}
	m.mu.RUnlock()

	st.Opens = m.opens.Load()
	st.Puts = m.puts.Load()
	st.Deletes = m.deletes.Load()
	st.Lists = m.lists.Load()
	return st
}

// memoryBlob aliases a stored slice. Stored slices are replaced, never
// written in place.
type memoryBlob []byte

func (b memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b memoryBlob) Size() int64  { return int64(len(b)) }
func (b memoryBlob) Close() error { return nil }
