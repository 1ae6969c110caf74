package device_test

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/blkcache/blobstore"
	"github.com/hupe1980/blkcache/device"
)

func Example() {
	ctx := context.Background()

	storage := device.NewBlobStorage(blobstore.NewMemoryStore(),
		device.WithCompression(device.CompressionZSTD),
	)

	dev, err := device.New(storage,
		device.WithBlockSize(512),
		device.WithCacheSize(8),
	)
	if err != nil {
		log.Fatal(err)
	}
	if err := dev.Open(ctx); err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	if _, err := dev.BlockWrite(ctx, 3, 1, bytes.Repeat([]byte{'x'}, 512)); err != nil {
		log.Fatal(err)
	}
	if err := dev.Flush(ctx); err != nil {
		log.Fatal(err)
	}

	data, err := dev.BlockRead(ctx, 3, 2)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(data[:4]), data[512])
	fmt.Println(storage.Blocks())
	// Output:
	// xxxx 0
	// [3]
}
