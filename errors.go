package blkcache

import (
	"fmt"
)

// LeakError is returned by Cache.Close when blocks were still referenced or
// dirty at teardown. The dirty blocks' modifications are lost.
type LeakError struct {
	Referenced []uint64
	Dirty      []uint64
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("cache closed with %d referenced and %d dirty blocks", len(e.Referenced), len(e.Dirty))
}

func (e *LeakError) empty() bool {
	return len(e.Referenced) == 0 && len(e.Dirty) == 0
}
