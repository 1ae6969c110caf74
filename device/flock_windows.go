//go:build windows

package device

import ifs "github.com/hupe1980/blkcache/internal/fs"

// File locks are not supported on Windows; the device lock still excludes
// callers within the process.
func flock(ifs.File) (bool, error) { return true, nil }

func funlock(ifs.File) error { return nil }
