package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/dnswatch/internal/database"
	"github.com/jroosing/dnswatch/internal/event"
)

// Ingestion defaults.
const (
	DefaultFlushInterval = 5 * time.Second
	DefaultStatsInterval = 5 * time.Minute
)

// Normalizer converts raw records to events.
type Normalizer interface {
	Normalize(rec event.RawRecord) event.Event
}

// Maintenance is the opportunistic store maintenance hook.
type Maintenance interface {
	Due() bool
	RunIfDue(ctx context.Context) (database.MaintenanceReport, bool, error)
}

// IngestOptions configures an Ingestor.
type IngestOptions struct {
	FlushInterval time.Duration
	StatsInterval time.Duration
	// Maintenance is checked after every enqueue. Nil disables it.
	Maintenance Maintenance
	Stats       *Stats
	Logger      *slog.Logger
}

// Ingestor is the single delivery loop: it reads raw records, normalizes
// them and enqueues the results. A ticker goroutine flushes the queue on a
// fixed interval and logs periodic statistics.
type Ingestor struct {
	normalizer Normalizer
	queue      *Queue
	opts       IngestOptions
	logger     *slog.Logger
}

// NewIngestor creates an Ingestor feeding q.
func NewIngestor(n Normalizer, q *Queue, opts IngestOptions) *Ingestor {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.Stats == nil {
		opts.Stats = q.stats
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{normalizer: n, queue: q, opts: opts, logger: logger}
}

// Stats returns the ingestion counters.
func (in *Ingestor) Stats() *Stats {
	return in.opts.Stats
}

// Run consumes records until the channel is closed or ctx is canceled, then
// stops the flush ticker and drains the queue with a final flush.
//
// Goroutine lifecycle: spawns one ticker goroutine that exits before Run
// returns.
func (in *Ingestor) Run(ctx context.Context, records <-chan event.RawRecord) error {
	// Writes are never canceled mid-batch: a flush either commits or drops.
	wctx := context.WithoutCancel(ctx)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in.tick(wctx, done)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case rec, ok := <-records:
			if !ok {
				break loop
			}
			in.handle(wctx, rec)
		}
	}

	close(done)
	wg.Wait()

	_ = in.queue.Flush(wctx)
	in.logStats("ingest stopped")
	return nil
}

// handle processes one record. A panic here is recovered so one bad record
// cannot stop ingestion.
func (in *Ingestor) handle(ctx context.Context, rec event.RawRecord) {
	defer func() {
		if r := recover(); r != nil {
			in.opts.Stats.RecordRecovered()
			in.logger.Error("recovered from panic while ingesting record", "event_id", rec.EventID, "panic", r)
		}
	}()

	in.opts.Stats.RecordReceived()
	if rec.EventID == 0 {
		in.opts.Stats.RecordIgnored()
		return
	}

	ev := in.normalizer.Normalize(rec)
	if !ev.Known() {
		in.opts.Stats.RecordUnknownKind()
	}
	_ = in.queue.Enqueue(ctx, ev)

	in.maybeMaintain(ctx)
}

// maybeMaintain runs a due maintenance pass under the queue lock. The cheap
// Due check keeps the lock off the hot path.
func (in *Ingestor) maybeMaintain(ctx context.Context) {
	m := in.opts.Maintenance
	if m == nil || !m.Due() {
		return
	}
	in.queue.Exclusive(func() {
		rep, ran, err := m.RunIfDue(ctx)
		if !ran {
			return
		}
		in.opts.Stats.RecordMaintenance()
		if err != nil {
			in.logger.Warn("maintenance finished with errors", "err", err)
			return
		}
		in.logger.Info("maintenance finished",
			"retention_deleted", rep.RetentionDeleted,
			"size_deleted", rep.SizeDeleted,
			"vacuumed", rep.Vacuumed,
			"duration", rep.Duration)
	})
}

func (in *Ingestor) tick(ctx context.Context, done <-chan struct{}) {
	flush := time.NewTicker(in.opts.FlushInterval)
	defer flush.Stop()
	stats := time.NewTicker(in.opts.StatsInterval)
	defer stats.Stop()

	for {
		select {
		case <-done:
			return
		case <-flush.C:
			_ = in.queue.Flush(ctx)
		case <-stats.C:
			in.logStats("ingest stats")
		}
	}
}

func (in *Ingestor) logStats(msg string) {
	s := in.opts.Stats.Snapshot()
	in.logger.Info(msg,
		"runtime", s.Runtime.Round(time.Second).String(),
		"received", s.Received,
		"stored", s.Stored,
		"dropped", s.Dropped,
		"source_dropped", s.SourceDropped,
		"unknown_kinds", s.UnknownKinds,
		"queued", in.queue.Len(),
		"events_per_sec", s.EventsPerSecond)
}
