// Package device provides cached block devices on top of blkcache.
//
// A Device implements BlockDevice by routing every read and write through a
// blkcache.Cache. Reads are served from the cache and loaded from the
// backing Storage on a miss. Writes only touch the cache; dirty blocks reach
// storage on Flush, on Close, or when the cache runs out of clean blocks.
//
//	dev, err := device.OpenFile(ctx, "disk.img",
//	    device.WithBlockSize(4096),
//	    device.WithCacheSize(64),
//	)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	if _, err := dev.BlockWrite(ctx, 7, 1, buf); err != nil {
//	    return err
//	}
//	if err := dev.Flush(ctx); err != nil {
//	    return err
//	}
//
// # Storage
//
//   - FileStorage: a single file, block id at offset id*blockSize, flock for
//     Lock/Unlock.
//   - BlobStorage: one object per block in any blobstore.BlobStore (memory,
//     local directory, S3, MinIO), compressed with LZ4 or ZSTD.
//
// # Locking
//
// Each Device method is atomic on its own. Lock and Unlock form a separate,
// advisory device-wide lock that also takes the storage's lock when it
// implements Locker. BlockRead, BlockWrite and Flush never check it, so a
// sequence of operations is only exclusive among callers that all Lock
// first.
package device
