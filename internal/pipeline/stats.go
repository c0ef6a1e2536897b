package pipeline

import (
	"sync/atomic"
	"time"
)

// Stats collects ingestion counters.
// All methods are safe for concurrent use.
type Stats struct {
	start time.Time

	received         atomic.Uint64
	ignored          atomic.Uint64
	unknownKinds     atomic.Uint64
	stored           atomic.Uint64
	dropped          atomic.Uint64
	batchesCommitted atomic.Uint64
	batchesFailed    atomic.Uint64
	recovered        atomic.Uint64
	maintenanceRuns  atomic.Uint64

	sourceDropped atomic.Pointer[func() uint64]
}

// NewStats creates a collector whose runtime starts now.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// RecordReceived records one raw record taken from the source.
func (s *Stats) RecordReceived() { s.received.Add(1) }

// RecordIgnored records a control record that was not persisted.
func (s *Stats) RecordIgnored() { s.ignored.Add(1) }

// RecordUnknownKind records an event outside the kind allowlist.
func (s *Stats) RecordUnknownKind() { s.unknownKinds.Add(1) }

// RecordRecovered records a panic recovered on the ingestion path.
func (s *Stats) RecordRecovered() { s.recovered.Add(1) }

// RecordMaintenance records one maintenance pass.
func (s *Stats) RecordMaintenance() { s.maintenanceRuns.Add(1) }

// SetSourceDropped installs the counter of records the trace source
// discarded before they reached the ingestion loop.
func (s *Stats) SetSourceDropped(fn func() uint64) {
	if fn == nil {
		s.sourceDropped.Store(nil)
		return
	}
	s.sourceDropped.Store(&fn)
}

// RecordBatch records the outcome of one flush of n events.
func (s *Stats) RecordBatch(n int, err error) {
	if err != nil {
		s.batchesFailed.Add(1)
		s.dropped.Add(uint64(n))
		return
	}
	s.batchesCommitted.Add(1)
	s.stored.Add(uint64(n))
}

// StatsSnapshot is a point-in-time snapshot of ingestion statistics.
type StatsSnapshot struct {
	Start            time.Time     `json:"start_time"`
	Runtime          time.Duration `json:"runtime"`
	Received         uint64        `json:"received"`
	Ignored          uint64        `json:"ignored"`
	UnknownKinds     uint64        `json:"unknown_kinds"`
	Stored           uint64        `json:"stored"`
	Dropped          uint64        `json:"dropped"`
	SourceDropped    uint64        `json:"source_dropped"`
	BatchesCommitted uint64        `json:"batches_committed"`
	BatchesFailed    uint64        `json:"batches_failed"`
	Recovered        uint64        `json:"recovered_panics"`
	MaintenanceRuns  uint64        `json:"maintenance_runs"`
	EventsPerSecond  float64       `json:"events_per_second"`
}

// Snapshot returns the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	runtime := time.Since(s.start)
	received := s.received.Load()

	rate := 0.0
	if secs := runtime.Seconds(); secs > 0 {
		rate = float64(received) / secs
	}

	var sourceDropped uint64
	if fn := s.sourceDropped.Load(); fn != nil {
		sourceDropped = (*fn)()
	}

	return StatsSnapshot{
		Start:            s.start,
		Runtime:          runtime,
		Received:         received,
		Ignored:          s.ignored.Load(),
		UnknownKinds:     s.unknownKinds.Load(),
		Stored:           s.stored.Load(),
		Dropped:          s.dropped.Load(),
		SourceDropped:    sourceDropped,
		BatchesCommitted: s.batchesCommitted.Load(),
		BatchesFailed:    s.batchesFailed.Load(),
		Recovered:        s.recovered.Load(),
		MaintenanceRuns:  s.maintenanceRuns.Load(),
		EventsPerSecond:  rate,
	}
}
