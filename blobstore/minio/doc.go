// Package minio stores blocks in MinIO or any other S3-compatible server
// (Ceph RGW, SeaweedFS, Garage) through minio-go.
//
//	store, err := minio.New(ctx, minio.Config{
//	    Endpoint:     "localhost:9000",
//	    AccessKey:    "minioadmin",
//	    SecretKey:    "minioadmin",
//	    Bucket:       "blocks",
//	    CreateBucket: true,
//	}, minio.WithPrefix("devices/disk0"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev, err := device.New(device.NewBlobStorage(store))
//
// Use NewStore to wrap a preconfigured *minio.Client. Unlike blobstore/s3
// this package needs no AWS SDK.
package minio
