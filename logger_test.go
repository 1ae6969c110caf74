package blkcache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	l.WithDevice("disk0").LogWriteback(ctx, 3, errors.New("boom"))
	assert.Contains(t, buf.String(), `"device":"disk0"`)
	assert.Contains(t, buf.String(), `"blocks":3`)
	assert.Contains(t, buf.String(), `"error":"boom"`)

	buf.Reset()
	l.WithBlock(9).LogRead(ctx, 9, nil)
	assert.Contains(t, buf.String(), "block read completed")

	buf.Reset()
	l.LogEvict(1, 2, true)
	assert.Contains(t, buf.String(), `"new_block":2`)

	buf.Reset()
	l.LogOpen(ctx, 4096, 16, nil)
	assert.Contains(t, buf.String(), `"cache_size":16`)
}

func TestLogger_Noop(t *testing.T) {
	l := NoopLogger()
	assert.NotPanics(t, func() {
		l.LogLeak(1, 1, true)
		l.LogClose(context.Background(), nil)
	})
}

func TestWithLogger_Nil(t *testing.T) {
	c := New(512, 1, WithLogger(nil), WithMetrics(nil))

	assert.NotNil(t, c.logger)
	assert.Equal(t, NoopMetricsCollector{}, c.metrics)
}
