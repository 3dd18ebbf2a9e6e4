package persistence

import (
	"context"
	"sync"
	"time"

	"aide/pkg/logx"
	"aide/pkg/proto"
)

// writeTimeout bounds one queued write against a wedged database.
const writeTimeout = 10 * time.Second

// Writer drains a fire-and-forget channel into the store so callers on
// the session's hot path never block on disk. Failed writes are logged,
// not retried: the store is a record, not the source of truth.
type Writer struct {
	store  *Store
	ch     chan func(ctx context.Context) error
	done   chan struct{}
	logger *logx.Logger

	closeOnce sync.Once
}

// NewWriter starts the writer goroutine. buffer bounds how many writes
// may be queued before senders block.
func NewWriter(store *Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 64
	}
	w := &Writer{
		store:  store,
		ch:     make(chan func(ctx context.Context) error, buffer),
		done:   make(chan struct{}),
		logger: logx.NewLogger("persistence"),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	for op := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := op(ctx); err != nil {
			w.logger.Error("write failed: %v", err)
		}
		cancel()
	}
}

// SaveTurns queues a snapshot write.
func (w *Writer) SaveTurns(turns []proto.Turn) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.SaveTurns(ctx, turns)
	})
}

// RecordEvent queues a lifecycle event write.
func (w *Writer) RecordEvent(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	w.enqueue(func(ctx context.Context) error {
		return w.store.RecordEvent(ctx, ev)
	})
}

func (w *Writer) enqueue(op func(ctx context.Context) error) {
	defer func() {
		// Writes race session teardown; one lost after Close is fine.
		if recover() != nil {
			w.logger.Warn("write after close, dropped")
		}
	}()
	w.ch <- op
}

// Close flushes queued writes and stops the goroutine.
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.ch) })
	<-w.done
}
