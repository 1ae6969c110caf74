// Package compress frames block payloads for object storage.
//
// Frames are verified with CRC32C on decode.
//
// Every frame carries a small header naming the algorithm and both sizes, so
// blocks written with different settings can be read back without
// configuration. Payloads that do not shrink by at least 10% are stored raw.
package compress
