// Package hash provides hardware-accelerated checksums for block integrity.
//
// # CRC32-Castagnoli (CRC32C)
//
// Compressed block frames and S3 uploads carry a CRC32C checksum:
//
//   - Hardware acceleration on x86 (SSE4.2) and ARM (CRC extension)
//   - The same polynomial S3 validates with ChecksumCRC32C
//
// # Usage
//
//	checksum := hash.CRC32C(data)
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
