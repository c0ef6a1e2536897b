package database

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jroosing/dnswatch/internal/event"
)

// Maintenance defaults.
const (
	DefaultMaintenanceInterval = 24 * time.Hour
	DefaultVacuumThreshold     = 1000
)

// Snapshotter takes a backup of the store before rows are deleted.
type Snapshotter interface {
	Snapshot(ctx context.Context) error
}

// MaintenanceOptions configures a Maintainer.
type MaintenanceOptions struct {
	RetentionDays int
	// MaxSizeBytes bounds main file + WAL. Zero means unbounded.
	MaxSizeBytes int64
	// Interval is the minimum time between two runs.
	Interval time.Duration
	// VacuumThreshold is the number of rows one deletion must remove to
	// trigger a VACUUM.
	VacuumThreshold int64
	Backup          Snapshotter
	Clock           func() time.Time
	Logger          *slog.Logger
}

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	BackupTaken      bool          `json:"backup_taken"`
	RetentionDeleted int64         `json:"retention_deleted"`
	SizeBefore       int64         `json:"size_before"`
	SizeDeleted      int64         `json:"size_deleted"`
	Vacuumed         bool          `json:"vacuumed"`
	Errors           []string      `json:"errors,omitempty"`
}

// Maintainer enforces retention and the size budget on a store.
//
// It does not lock anything itself: callers must run it mutually exclusive
// with batch flushes (see pipeline.Queue.Exclusive).
type Maintainer struct {
	store *Store
	opts  MaintenanceOptions

	lastRun atomic.Int64 // unix nanos of the last run start, 0 = never

	mu   sync.Mutex
	last *MaintenanceReport
}

// NewMaintainer creates a Maintainer for store.
func NewMaintainer(store *Store, opts MaintenanceOptions) *Maintainer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMaintenanceInterval
	}
	if opts.VacuumThreshold <= 0 {
		opts.VacuumThreshold = DefaultVacuumThreshold
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = store.logger
	}
	return &Maintainer{store: store, opts: opts}
}

// Due reports whether a full interval has elapsed since the last run.
func (m *Maintainer) Due() bool {
	last := m.lastRun.Load()
	if last == 0 {
		return true
	}
	return m.opts.Clock().Sub(time.Unix(0, last)) >= m.opts.Interval
}

// RunIfDue runs maintenance when Due. The bool reports whether it ran.
func (m *Maintainer) RunIfDue(ctx context.Context) (MaintenanceReport, bool, error) {
	if !m.Due() {
		return MaintenanceReport{}, false, nil
	}
	rep, err := m.Run(ctx)
	return rep, true, err
}

// Run performs one maintenance pass: backup snapshot, retention delete,
// size-budget delete, then VACUUM when either deletion removed at least
// VacuumThreshold rows. Step failures are logged and collected; later steps
// still run.
func (m *Maintainer) Run(ctx context.Context) (MaintenanceReport, error) {
	now := m.opts.Clock()
	m.lastRun.Store(now.UnixNano())
	logger := m.opts.Logger

	rep := MaintenanceReport{StartedAt: now}
	var errs []error
	fail := func(step string, err error) {
		logger.Error("maintenance step failed", "step", step, "err", err)
		errs = append(errs, err)
		rep.Errors = append(rep.Errors, step+": "+err.Error())
	}

	if m.opts.Backup != nil {
		if err := m.opts.Backup.Snapshot(ctx); err != nil {
			fail("backup", err)
		} else {
			rep.BackupTaken = true
		}
	}

	cutoff := now.Add(-time.Duration(m.opts.RetentionDays) * 24 * time.Hour)
	n, err := m.store.deleteBefore(ctx, event.FormatTimestamp(cutoff))
	if err != nil {
		fail("retention", err)
	}
	rep.RetentionDeleted = n
	if n > 0 {
		logger.Info("deleted expired events", "rows", n, "retention_days", m.opts.RetentionDays)
	}

	if m.opts.MaxSizeBytes > 0 {
		deleted, size, err := m.enforceSize(ctx)
		rep.SizeBefore = size
		rep.SizeDeleted = deleted
		if err != nil {
			fail("size", err)
		}
	}

	if rep.RetentionDeleted >= m.opts.VacuumThreshold || rep.SizeDeleted >= m.opts.VacuumThreshold {
		if err := m.store.vacuum(ctx); err != nil {
			fail("vacuum", err)
		} else {
			rep.Vacuumed = true
			logger.Info("store compacted")
		}
	}

	rep.Duration = m.opts.Clock().Sub(now)

	m.mu.Lock()
	m.last = &rep
	m.mu.Unlock()

	return rep, errors.Join(errs...)
}

// enforceSize deletes the oldest tenth of the rows (at least one) when the
// store exceeds MaxSizeBytes.
func (m *Maintainer) enforceSize(ctx context.Context) (deleted, size int64, err error) {
	size, err = m.store.FileSize()
	if err != nil {
		return 0, 0, err
	}
	if size <= m.opts.MaxSizeBytes {
		return 0, size, nil
	}

	count, err := m.store.Count(ctx)
	if err != nil {
		return 0, size, err
	}
	if count == 0 {
		return 0, size, nil
	}

	deleted, err = m.store.deleteOldest(ctx, max(1, count/10))
	if err != nil {
		return 0, size, err
	}
	m.opts.Logger.Info("store over size budget, deleted oldest events",
		"size_bytes", size, "max_bytes", m.opts.MaxSizeBytes, "rows", deleted)
	return deleted, size, nil
}

// LastReport returns the report of the most recent run.
func (m *Maintainer) LastReport() (MaintenanceReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return MaintenanceReport{}, false
	}
	return *m.last, true
}
