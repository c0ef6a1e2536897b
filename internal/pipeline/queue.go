// Package pipeline moves normalized events from a trace source into the
// store: a mutex-guarded write-batch queue, the ingestion loop that feeds it
// and the counters both maintain.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jroosing/dnswatch/internal/event"
)

// DefaultBatchSize is the buffer length that triggers an immediate flush.
const DefaultBatchSize = 100

// BatchWriter commits a batch atomically: all events or none.
type BatchWriter interface {
	InsertBatch(ctx context.Context, events []event.Event) error
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	BatchSize int
	Stats     *Stats
	Logger    *slog.Logger
}

// Queue buffers events and writes them in batches.
//
// One mutex guards the buffer and every use of the writer. Enqueue and the
// threshold flush it may trigger happen in the same critical section, so a
// batch never straddles two lock acquisitions. A failed batch is dropped,
// never retried (at-most-once delivery).
type Queue struct {
	mu        sync.Mutex
	buf       []event.Event
	writer    BatchWriter
	batchSize int
	stats     *Stats
	logger    *slog.Logger
}

// NewQueue creates a Queue writing to w.
func NewQueue(w BatchWriter, opts QueueOptions) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		buf:       make([]event.Event, 0, opts.BatchSize),
		writer:    w,
		batchSize: opts.BatchSize,
		stats:     opts.Stats,
		logger:    opts.Logger,
	}
}

// Enqueue appends ev and flushes when the buffer reaches the batch size.
// A flush error has already been logged and counted; it is returned for
// callers that want it.
func (q *Queue) Enqueue(ctx context.Context, ev event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buf = append(q.buf, ev)
	if len(q.buf) >= q.batchSize {
		return q.flushLocked(ctx)
	}
	return nil
}

// Flush writes the buffered events. It is a no-op on an empty buffer.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked(ctx)
}

// Exclusive runs fn while holding the queue lock, so fn never overlaps a
// flush. Maintenance passes use it.
func (q *Queue) Exclusive(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *Queue) flushLocked(ctx context.Context) error {
	if len(q.buf) == 0 {
		return nil
	}
	batch := q.buf
	q.buf = make([]event.Event, 0, q.batchSize)

	err := q.write(ctx, batch)
	q.stats.RecordBatch(len(batch), err)
	if err != nil {
		q.logger.Error("batch write failed, dropping batch", "events", len(batch), "err", err)
		return err
	}
	q.logger.Debug("batch committed", "events", len(batch))
	return nil
}

func (q *Queue) write(ctx context.Context, batch []event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.RecordRecovered()
			err = fmt.Errorf("panic during batch write: %v", r)
		}
	}()
	return q.writer.InsertBatch(ctx, batch)
}
