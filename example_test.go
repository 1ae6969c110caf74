package blkcache_test

import (
	"fmt"

	"github.com/hupe1980/blkcache"
)

// Example_lru shows clean blocks being repurposed in release order once the
// cache is full.
func Example_lru() {
	c := blkcache.New(512, 3)

	for id := uint64(1); id <= 3; id++ {
		b := c.AllocBlock(id)
		b.SetUptodate()
		c.PutBlock(b)
	}

	// Block 1 was released first, so it is reused for block 4.
	b := c.AllocBlock(4)
	fmt.Println(b.ID(), c.FindGetBlock(1) == nil)
	b.SetUptodate()
	c.PutBlock(b)

	fmt.Println(c.Count(), c.LRUCount())
	// Output:
	// 4 true
	// 3 3
}

// Example_dirty shows the writeback protocol for modified blocks.
func Example_dirty() {
	c := blkcache.New(512, 2)

	b := c.AllocBlock(7)
	copy(b.Buffer(), "hello")
	b.SetUptodate()
	b.SetDirty()
	c.PutBlock(b)

	for d := c.GetDirtyBlock(); d != nil; d = c.GetDirtyBlock() {
		fmt.Printf("write back block %d: %s\n", d.ID(), d.Buffer()[:5])
		d.ClearDirty()
		c.PutBlock(d)
	}

	fmt.Println(c.DirtyCount(), c.LRUCount())
	// Output:
	// write back block 7: hello
	// 0 1
}
