package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jroosing/dnswatch/internal/event"
)

// txExec is the subset of *sql.DB / *sql.Tx the migrator needs.
type txExec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MigrationResult describes what a Migrate call did.
type MigrationResult struct {
	From    int
	To      int
	Added     []string // columns added, in order
	Rewritten int64    // rows whose timestamp was normalized
	Skipped   bool     // store was already past the target version
}

// Migrate brings the events table of db forward to CurrentSchemaVersion.
//
// It is additive and idempotent: columns are only ever added, each after
// checking it is missing, and indexes are created IF NOT EXISTS. A store
// whose stored version is above the target is left untouched.
//
// A failed step is reported but does not stop later steps; the version row
// is only rewritten when every step succeeded, so the next open retries.
func Migrate(ctx context.Context, db *sql.DB, v event.Variant, logger *slog.Logger) (MigrationResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	table := schemaFor(v)

	from, err := storedVersion(ctx, db)
	if err != nil {
		return MigrationResult{}, err
	}
	res := MigrationResult{From: from, To: from}

	if _, err := db.ExecContext(ctx, table.createSQL); err != nil {
		return res, fmt.Errorf("failed to create events table: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER)"); err != nil {
		return res, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if from > CurrentSchemaVersion {
		logger.Warn("store schema is newer than this program, leaving it untouched",
			"stored_version", from, "supported_version", CurrentSchemaVersion)
		res.Skipped = true
		return res, nil
	}

	var errs []error
	for _, step := range table.steps {
		if step.version <= from {
			continue
		}
		added, rewritten, err := applyStep(ctx, db, step)
		if err != nil {
			logger.Error("schema migration step failed", "version", step.version, "err", err)
			errs = append(errs, err)
			continue
		}
		res.Added = append(res.Added, added...)
		res.Rewritten += rewritten
		if len(added) > 0 || rewritten > 0 {
			logger.Info("schema migration step applied", "version", step.version, "columns", added, "rows_rewritten", rewritten)
		}
	}

	for _, idx := range table.indexes {
		q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, eventsTable, idx.column)
		if _, err := db.ExecContext(ctx, q); err != nil {
			errs = append(errs, fmt.Errorf("failed to create index %s: %w", idx.name, err))
		}
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	if err := writeVersion(ctx, db, CurrentSchemaVersion); err != nil {
		return res, err
	}
	res.To = CurrentSchemaVersion
	return res, nil
}

// storedVersion reads the schema version. A store without a schema_version
// table, or with an empty one, predates versioning and counts as version 1.
func storedVersion(ctx context.Context, q txExec) (int, error) {
	var tables int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if tables == 0 {
		return 1, nil
	}

	var version sql.Null[int64]
	if err := q.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 1, nil
	}
	return int(version.V), nil
}

func applyStep(ctx context.Context, db *sql.DB, step migrationStep) ([]string, int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin migration to v%d: %w", step.version, err)
	}
	defer tx.Rollback()

	var added []string
	for _, col := range step.columns {
		exists, err := columnExists(ctx, tx, eventsTable, col.name)
		if err != nil {
			return nil, 0, err
		}
		if exists {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", eventsTable, col.name, col.decl)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return nil, 0, fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
		added = append(added, col.name)
	}

	var rewritten int64
	if step.rewrite != nil {
		rewritten, err = step.rewrite(ctx, tx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to rewrite rows for v%d: %w", step.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit migration to v%d: %w", step.version, err)
	}
	return added, rewritten, nil
}

const rewriteChunk = 1000

type storedTimestamp struct {
	id int64
	ts string
}

// normalizeTimestamps rewrites timestamps stored with a UTC offset, such as
// 2026-10-14T23:30:00.0000000+02:00, into event.TimestampLayout. Retention
// and size eviction compare timestamps as text, which only works when every
// row is in that layout. Text that does not parse is left as is.
func normalizeTimestamps(ctx context.Context, tx *sql.Tx) (int64, error) {
	update, err := tx.PrepareContext(ctx, "UPDATE "+eventsTable+" SET timestamp = ? WHERE id = ?")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare timestamp update: %w", err)
	}
	defer update.Close()

	var rewritten, lastID int64
	for {
		chunk, err := offsetTimestamps(ctx, tx, lastID)
		if err != nil {
			return rewritten, err
		}
		for _, row := range chunk {
			lastID = row.id
			t, err := time.Parse(time.RFC3339Nano, row.ts)
			if err != nil {
				continue
			}
			if _, err := update.ExecContext(ctx, event.FormatTimestamp(t), row.id); err != nil {
				return rewritten, fmt.Errorf("failed to rewrite timestamp of row %d: %w", row.id, err)
			}
			rewritten++
		}
		if len(chunk) < rewriteChunk {
			return rewritten, nil
		}
	}
}

// offsetTimestamps reads the next chunk of rows after afterID whose
// timestamp is not in UTC form. Rows are fully read before returning so the
// caller can write on the same transaction.
func offsetTimestamps(ctx context.Context, tx *sql.Tx, afterID int64) ([]storedTimestamp, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, timestamp FROM "+eventsTable+" WHERE id > ? AND timestamp NOT LIKE '%Z' ORDER BY id LIMIT ?",
		afterID, rewriteChunk)
	if err != nil {
		return nil, fmt.Errorf("failed to scan timestamps: %w", err)
	}
	defer rows.Close()

	var out []storedTimestamp
	for rows.Next() {
		var row storedTimestamp
		if err := rows.Scan(&row.id, &row.ts); err != nil {
			return nil, fmt.Errorf("failed to read timestamp: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func columnExists(ctx context.Context, q txExec, table, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect column %s: %w", name, err)
	}
	return n > 0, nil
}

func writeVersion(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin version update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("failed to clear schema version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema version: %w", err)
	}
	return nil
}
