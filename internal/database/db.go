// Package database provides the SQLite-backed event store for dnswatch.
//
// A store holds one append-mostly dns_events table plus a single-row
// schema_version table. The layout depends on the watcher variant:
//   - client stores record process identity (process_id, process_name)
//   - server stores record peer identity (client_ip) and the zone
//
// Opening a store acquires an exclusive lock file next to it, migrates the
// schema to CurrentSchemaVersion and prepares the insert statement once.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jroosing/dnswatch/internal/event"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrStoreLocked is returned by Open when another process holds the store.
var ErrStoreLocked = errors.New("store is locked by another process")

// Options configures Open.
type Options struct {
	Logger *slog.Logger
	// NoLock skips the lock file. Only tools that never write (or tests)
	// should set it.
	NoLock bool
}

// Store wraps a SQLite database holding DNS events of one variant.
type Store struct {
	conn    *sql.DB
	path    string
	variant event.Variant
	table   tableSchema
	insert  *sql.Stmt
	lock    *fileLock
	logger  *slog.Logger

	migration MigrationResult
}

// Open opens or creates the store at path for variant v.
func Open(ctx context.Context, path string, v event.Variant, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lock *fileLock
	if !opts.NoLock {
		l, err := acquireLock(path + ".lock")
		if err != nil {
			return nil, err
		}
		lock = l
	}

	// WAL lets readers (the status API, a sqlite3 shell) run during writes.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; the write-batch queue already serializes access.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		conn:    conn,
		path:    path,
		variant: v,
		table:   schemaFor(v),
		lock:    lock,
		logger:  logger,
	}

	res, err := Migrate(ctx, conn, v, logger)
	s.migration = res
	if err != nil {
		logger.Warn("schema migration incomplete", "path", path, "from", res.From, "err", err)
	} else if res.From != res.To {
		logger.Info("schema migrated", "path", path, "from", res.From, "to", res.To)
	}

	s.insert, err = conn.PrepareContext(ctx, s.table.insertSQL())
	if err != nil {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	return s, nil
}

// Migration reports what Open's migration pass did.
func (s *Store) Migration() MigrationResult {
	return s.migration
}

// Close releases the prepared statement, the connection and the lock file.
func (s *Store) Close() error {
	var errs []error
	if s.insert != nil {
		errs = append(errs, s.insert.Close())
	}
	errs = append(errs, s.conn.Close())
	errs = append(errs, s.lock.release())
	return errors.Join(errs...)
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Variant returns the store's event variant.
func (s *Store) Variant() event.Variant {
	return s.variant
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.conn
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// InsertBatch writes events in one transaction using the prepared insert
// statement. Either every event is committed or none is.
func (s *Store) InsertBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.insert)
	defer stmt.Close()

	for i, ev := range events {
		if _, err := stmt.ExecContext(ctx, s.table.bind(ev)...); err != nil {
			return fmt.Errorf("failed to insert event %d of %d: %w", i+1, len(events), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+eventsTable).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return storedVersion(ctx, s.conn)
}

// FileSize returns the on-disk size of the store: main file plus WAL.
func (s *Store) FileSize() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat store: %w", err)
	}
	size := info.Size()
	if wal, err := os.Stat(s.path + "-wal"); err == nil {
		size += wal.Size()
	}
	return size, nil
}

// Checkpoint folds the WAL into the main file and truncates it, so a plain
// file copy of the store is complete.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// deleteBefore removes every event with a timestamp strictly before cutoff.
func (s *Store) deleteBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM "+eventsTable+" WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return res.RowsAffected()
}

// deleteOldest removes the n oldest events by timestamp.
func (s *Store) deleteOldest(ctx context.Context, n int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM "+eventsTable+" WHERE id IN (SELECT id FROM "+eventsTable+" ORDER BY timestamp ASC, id ASC LIMIT ?)", n)
	if err != nil {
		return 0, fmt.Errorf("failed to delete oldest events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) vacuum(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	return nil
}
