//go:build !windows

package device

import (
	"errors"

	ifs "github.com/hupe1980/blkcache/internal/fs"
	"golang.org/x/sys/unix"
)

// flock tries to take an exclusive lock without blocking.
func flock(f ifs.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return err == nil, err
}

func funlock(f ifs.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
