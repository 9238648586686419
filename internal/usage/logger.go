package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchFlushThreshold is the number of entries that triggers an immediate
// write without waiting for the flush timer.
const BatchFlushThreshold = 100

// LoggerInterface defines the interface for loggers (both real and noop)
type LoggerInterface interface {
	Write(entry *UsageEntry)
	Config() Config
	Close() error
}

// Logger buffers usage entries in a channel and writes them to a UsageStore
// in batches, either when a batch fills up or on each flush tick.
// Write never blocks the dispatch path.
type Logger struct {
	store   UsageStore
	config  Config
	buffer  chan *UsageEntry
	done    chan struct{}
	loop    sync.WaitGroup
	writes  sync.WaitGroup // in-flight Write calls
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewLogger creates a new async buffered Logger and starts its flush goroutine.
func NewLogger(store UsageStore, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:  store,
		config: cfg,
		buffer: make(chan *UsageEntry, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	l.loop.Add(1)
	go l.run()

	return l
}

// Write queues an entry. When the buffer is full or the logger is closed the
// entry is dropped and counted.
func (l *Logger) Write(entry *UsageEntry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have started between the first check and Add.
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
		slog.Warn("usage log buffer full, dropping entry",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
		)
	}
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Dropped returns how many entries were discarded because the buffer was full.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting entries, writes what is buffered and closes the store.
// Close is idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.writes.Wait()
	close(l.done)
	l.loop.Wait()
	return l.store.Close()
}

func (l *Logger) run() {
	defer l.loop.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*UsageEntry, 0, BatchFlushThreshold)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.writeBatch(batch)
		batch = make([]*UsageEntry, 0, BatchFlushThreshold)
	}

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			// No Write is in flight once done is closed, so closing buffer is safe.
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			flush()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) writeBatch(batch []*UsageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write usage batch", "error", err, "count", len(batch))
	}
}

// NoopLogger is used when usage persistence is disabled.
type NoopLogger struct{}

func (NoopLogger) Write(_ *UsageEntry) {}

func (NoopLogger) Config() Config { return Config{Enabled: false} }

func (NoopLogger) Close() error { return nil }
