// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("devices/disk0"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	storage := device.NewBlobStorage(store, device.WithCompression(device.CompressionLZ4))
//
// # Features
//
//   - Range reads for partial fetches
//   - Single-request uploads with CRC32C for block-sized blobs
//   - Multipart uploads for large blobs
//   - Automatic pagination for listing
//   - DDBLock: a DynamoDB lease keeping one writer per device prefix
package s3
