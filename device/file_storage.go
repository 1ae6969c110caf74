package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sync"
	"time"

	ifs "github.com/hupe1980/blkcache/internal/fs"
)

// FileStorage stores blocks in a single file at offset id * blockSize.
// The block size is taken from the buffers passed in.
type FileStorage struct {
	path string
	fs   ifs.FileSystem

	mu     sync.Mutex
	f      ifs.File
	locked bool
}

var (
	_ Storage = (*FileStorage)(nil)
	_ Locker  = (*FileStorage)(nil)
)

// NewFileStorage returns storage for the file at path. The file is created
// on Open if it does not exist.
func NewFileStorage(path string) *FileStorage {
	return newFileStorageFS(path, ifs.Default)
}

func newFileStorageFS(path string, fsys ifs.FileSystem) *FileStorage {
	return &FileStorage{path: path, fs: fsys}
}

// Path returns the backing file path.
func (s *FileStorage) Path() string { return s.path }

// Open opens the file read-write, creating it exclusively when missing.
func (s *FileStorage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := s.fs.OpenFile(s.path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = s.fs.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return fmt.Errorf("device: open %s: %w", s.path, err)
	}

	s.f = f
	return nil
}

// ReadBlock reads block id into p. Space past the end of the file reads as
// zeros.
func (s *FileStorage) ReadBlock(ctx context.Context, id uint64, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	off, err := blockOffset(id, len(p))
	if err != nil {
		return err
	}

	n, err := s.f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("device: read block %d: %w", id, err)
	}
	clear(p[n:])
	return nil
}

// WriteBlocks writes blocks, issuing one WriteAt per run of consecutive IDs.
func (s *FileStorage) WriteBlocks(ctx context.Context, blocks []BlockData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}

	for start := 0; start < len(blocks); {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + 1
		for end < len(blocks) && blocks[end].ID == blocks[end-1].ID+1 {
			end++
		}

		if err := s.writeRun(blocks[start:end]); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func (s *FileStorage) writeRun(run []BlockData) error {
	bs := len(run[0].Data)

	// Checking the last id bounds the whole run.
	if _, err := blockOffset(run[len(run)-1].ID, bs); err != nil {
		return err
	}
	off, _ := blockOffset(run[0].ID, bs)

	buf := run[0].Data
	if len(run) > 1 {
		buf = make([]byte, 0, len(run)*bs)
		for _, b := range run {
			buf = append(buf, b.Data...)
		}
	}

	if _, err := s.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("device: write blocks %d-%d: %w", run[0].ID, run[len(run)-1].ID, err)
	}
	return nil
}

// blockOffset returns the file offset of block id. The block must end at
// or before math.MaxInt64, so larger ids cannot wrap onto low blocks.
func blockOffset(id uint64, blockSize int) (int64, error) {
	if blockSize <= 0 || id >= uint64(math.MaxInt64)/uint64(blockSize) {
		return 0, fmt.Errorf("%w: block %d at %d bytes per block", ErrOutOfRange, id, blockSize)
	}
	return int64(id) * int64(blockSize), nil
}

// Sync flushes the file to stable storage.
func (s *FileStorage) Sync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}
	return s.f.Sync()
}

// Close closes the file, dropping the file lock if held.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}

	var unlockErr error
	if s.locked {
		unlockErr = funlock(s.f)
		s.locked = false
	}
	err := s.f.Close()
	s.f = nil
	return errors.Join(unlockErr, err)
}

// lockPollInterval is how often Lock retries a contended file lock.
const lockPollInterval = 10 * time.Millisecond

// Lock takes an exclusive advisory lock on the file, waiting until it is
// free or ctx is done.
func (s *FileStorage) Lock(ctx context.Context) error {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := s.tryLock()
		if err != nil || ok {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *FileStorage) tryLock() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return false, ErrClosed
	}
	if s.locked {
		return true, nil
	}

	ok, err := flock(s.f)
	if err != nil {
		return false, fmt.Errorf("device: lock %s: %w", s.path, err)
	}
	s.locked = ok
	return ok, nil
}

// Unlock releases the advisory lock.
func (s *FileStorage) Unlock(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil || !s.locked {
		return nil
	}
	s.locked = false
	return funlock(s.f)
}
