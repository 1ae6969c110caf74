package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 4096})

	require.NoError(t, c.AcquireMemory(1024))
	require.NoError(t, c.AcquireMemory(2048))
	assert.Equal(t, int64(3072), c.MemoryUsage())

	// 1024 left, 2048 does not fit
	err := c.AcquireMemory(2048)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(3072), c.MemoryUsage())

	c.ReleaseMemory(2048)
	assert.Equal(t, int64(1024), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(2048))
	assert.Equal(t, int64(3072), c.MemoryUsage())
	assert.Equal(t, int64(4096), c.MemoryLimit())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(1<<30))
	assert.Equal(t, int64(1<<30), c.MemoryUsage())

	c.ReleaseMemory(1 << 29)
	assert.Equal(t, int64(1<<29), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())
}

func TestController_IgnoresNonPositive(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})

	require.NoError(t, c.AcquireMemory(0))
	require.NoError(t, c.AcquireMemory(-5))
	c.ReleaseMemory(-5)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1024})

	// The bucket starts full.
	require.NoError(t, c.AcquireIO(context.Background(), 1024))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.AcquireIO(ctx, 1024)
	assert.Error(t, err)
	assert.Equal(t, int64(1024), c.IOBytes())
}

func TestController_IOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	require.NoError(t, c.AcquireIO(context.Background(), 1<<20+512))
	assert.Equal(t, int64(1<<20+512), c.IOBytes())
}

func TestController_UnlimitedIO(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireIO(context.Background(), 1<<30))
	require.NoError(t, c.AcquireIO(context.Background(), 1<<30))
	assert.Equal(t, int64(2<<30), c.IOBytes())
}

func TestController_NilChecks(t *testing.T) {
	var c *Controller

	assert.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())
	assert.NoError(t, c.AcquireIO(context.Background(), 10))
	assert.Equal(t, int64(0), c.IOBytes())
}
