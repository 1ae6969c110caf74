// Package testutil provides testing utilities for blkcache.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe random source for generating block
// payloads and randomized cache operation sequences.
//
//	rng := testutil.NewRNG(4711)
//	data := rng.Blocks(8, 4096)   // 8 random 4KB blocks
//	op := rng.Pick([]string{"alloc", "put"}, []int{3, 1})
package testutil
