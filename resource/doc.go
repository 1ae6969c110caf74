// Package resource governs the two resources a cached block device consumes
// outside the cache's own bookkeeping:
//
//   - Memory: every cache buffer is reserved against a byte budget
//     (non-blocking, fail-fast). A denied reservation surfaces as a failed
//     allocation, exactly like a full cache.
//
//   - IO: writeback traffic to the backing storage passes a token bucket so a
//     large flush cannot saturate the device.
//
//     rc := resource.NewController(resource.Config{
//     MemoryLimitBytes:   64 << 20,  // 64MB of block buffers
//     IOLimitBytesPerSec: 32 << 20,  // 32MB/s writeback
//     })
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
