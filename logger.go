package blkcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with block-cache specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

var noopLogger = NoopLogger()

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelWarn).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithBlock adds a block id field to the logger.
func (l *Logger) WithBlock(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("block", id),
	}
}

// WithDevice adds a device name field to the logger.
func (l *Logger) WithDevice(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("device", name),
	}
}

// LogRefDecDirty logs the release of a reference on a block that still
// carries unpersisted modifications.
func (l *Logger) LogRefDecDirty(id uint64, refCount int) {
	l.Warn("dereferencing a dirty block",
		"block", id,
		"ref_count", refCount,
	)
}

// LogMoveActive logs an identity change of a block that is still referenced
// or dirty.
func (l *Logger) LogMoveActive(id, newID uint64, refCount int, dirty bool) {
	l.Warn("changing the id of a block in use",
		"block", id,
		"new_block", newID,
		"ref_count", refCount,
		"dirty", dirty,
	)
}

// LogEvict logs the repurposing or release of a cached block.
func (l *Logger) LogEvict(id, newID uint64, reused bool) {
	if reused {
		l.Debug("block evicted for reuse",
			"block", id,
			"new_block", newID,
		)
	} else {
		l.Debug("block released from cache",
			"block", id,
		)
	}
}

// LogLeak logs a block still referenced or dirty at cache teardown.
func (l *Logger) LogLeak(id uint64, refCount int, dirty bool) {
	l.Warn("block still in use at cache close",
		"block", id,
		"ref_count", refCount,
		"dirty", dirty,
	)
}

// LogRead logs a block load from the backing storage.
func (l *Logger) LogRead(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "block read failed",
			"block", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "block read completed",
			"block", id,
		)
	}
}

// LogWriteback logs a writeback batch.
func (l *Logger) LogWriteback(ctx context.Context, blocks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "writeback failed",
			"blocks", blocks,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "writeback completed",
			"blocks", blocks,
		)
	}
}

// LogOpen logs a device open.
func (l *Logger) LogOpen(ctx context.Context, blockSize, cacheSize int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "device open failed",
			"block_size", blockSize,
			"cache_size", cacheSize,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "device opened",
			"block_size", blockSize,
			"cache_size", cacheSize,
		)
	}
}

// LogClose logs a device close.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "device close failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "device closed")
	}
}
