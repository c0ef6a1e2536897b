package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jroosing/dnswatch/internal/database"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawDB opens path without the store wrapper, for building legacy layouts.
func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func exec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, q := range stmts {
		_, err := db.Exec(q)
		require.NoError(t, err, q)
	}
}

const legacyServerTable = `CREATE TABLE dns_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	client_ip TEXT,
	query_name TEXT,
	query_type TEXT,
	response_code TEXT,
	resolved_ips TEXT,
	zone TEXT
)`

const v2ClientTable = `CREATE TABLE dns_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_id INTEGER,
	process_id INTEGER,
	process_name TEXT,
	query_name TEXT,
	query_type TEXT,
	status TEXT,
	query_results TEXT,
	dns_server TEXT,
	interface_index INTEGER,
	error_category TEXT
)`

func TestMigrate_LegacyServerStore(t *testing.T) {
	path := tempPath(t)
	legacy := rawDB(t, path)
	exec(t, legacy,
		legacyServerTable,
		`INSERT INTO dns_events (timestamp, event_type, client_ip, query_name)
		 VALUES ('2025-06-01T00:00:00.0000000Z', 'QUERY', '10.0.0.1', 'legacy.example')`,
	)
	require.NoError(t, legacy.Close())

	s := openStore(t, path, event.VariantServer)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.CurrentSchemaVersion, v)

	assert.Equal(t, []string{
		"id", "timestamp", "event_type", "client_ip", "query_name", "query_type",
		"response_code", "resolved_ips", "zone",
		"error_category", "raw_payload", "correlation_id", "parent_correlation_id", "event_id",
	}, columns(t, s.DB()))
	assert.Contains(t, indexes(t, s.DB()), "idx_correlation_id")

	var name string
	require.NoError(t, s.DB().QueryRow("SELECT query_name FROM dns_events").Scan(&name))
	assert.Equal(t, "legacy.example", name)

	// The migrated table accepts current-format batches.
	ev := serverEvent(time.Now(), "new.example")
	ev.CorrelationID = event.Int(99)
	require.NoError(t, s.InsertBatch(ctx, []event.Event{ev}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMigrate_FromV2SkipsExistingColumns(t *testing.T) {
	db := rawDB(t, tempPath(t))
	exec(t, db,
		v2ClientTable,
		"CREATE TABLE schema_version (version INTEGER)",
		"INSERT INTO schema_version (version) VALUES (2)",
		// A partial earlier run already added one v3 column.
		"ALTER TABLE dns_events ADD COLUMN raw_payload TEXT",
	)

	res, err := database.Migrate(context.Background(), db, event.VariantClient, quietLogger)
	require.NoError(t, err)
	assert.Equal(t, 2, res.From)
	assert.Equal(t, database.CurrentSchemaVersion, res.To)
	assert.Equal(t, []string{"correlation_id", "parent_correlation_id"}, res.Added)
}

func TestMigrate_EmptyVersionTableCountsAsLegacy(t *testing.T) {
	db := rawDB(t, tempPath(t))
	exec(t, db, legacyServerTable, "CREATE TABLE schema_version (version INTEGER)")

	res, err := database.Migrate(context.Background(), db, event.VariantServer, quietLogger)
	require.NoError(t, err)
	assert.Equal(t, 1, res.From)
	assert.Contains(t, res.Added, "error_category")
}

func TestMigrate_Idempotent(t *testing.T) {
	for _, v := range []event.Variant{event.VariantClient, event.VariantServer} {
		t.Run(v.String(), func(t *testing.T) {
			db := rawDB(t, tempPath(t))
			ctx := context.Background()

			first, err := database.Migrate(ctx, db, v, quietLogger)
			require.NoError(t, err)
			colsAfterFirst := columns(t, db)
			idxAfterFirst := indexes(t, db)

			second, err := database.Migrate(ctx, db, v, quietLogger)
			require.NoError(t, err)

			assert.Equal(t, first.To, second.To)
			assert.Empty(t, second.Added)
			assert.Equal(t, colsAfterFirst, columns(t, db))
			assert.Equal(t, idxAfterFirst, indexes(t, db))

			var rows int
			require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows))
			assert.Equal(t, 1, rows)
		})
	}
}

func TestMigrate_NewerStoreNotDowngraded(t *testing.T) {
	path := tempPath(t)
	s := openStore(t, path, event.VariantClient)
	_, err := s.DB().Exec("UPDATE schema_version SET version = 7")
	require.NoError(t, err)

	res, err := database.Migrate(context.Background(), s.DB(), event.VariantClient, quietLogger)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 7, res.From)

	require.NoError(t, s.Close())
	s = openStore(t, path, event.VariantClient)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

// =============================================================================
// Timestamp normalization
// =============================================================================

func legacyWithStamps(t *testing.T, path string, stamps ...string) {
	t.Helper()
	legacy := rawDB(t, path)
	exec(t, legacy, legacyServerTable)
	for _, ts := range stamps {
		_, err := legacy.Exec("INSERT INTO dns_events (timestamp, event_type) VALUES (?, 'QUERY')", ts)
		require.NoError(t, err)
	}
	require.NoError(t, legacy.Close())
}

func storedStamps(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT timestamp FROM dns_events ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ts string
		require.NoError(t, rows.Scan(&ts))
		out = append(out, ts)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestMigrate_RewritesOffsetTimestampsToUTC(t *testing.T) {
	path := tempPath(t)
	legacyWithStamps(t, path,
		"2026-10-14T23:30:00.0000000+02:00",
		"2026-10-14T18:15:30.1234567-05:00",
		"2026-10-14T10:00:00.0000000Z",
		"not a timestamp",
	)

	s := openStore(t, path, event.VariantServer)
	assert.EqualValues(t, 2, s.Migration().Rewritten)

	assert.Equal(t, []string{
		"2026-10-14T21:30:00.0000000Z",
		"2026-10-14T23:15:30.1234567Z",
		"2026-10-14T10:00:00.0000000Z",
		"not a timestamp",
	}, storedStamps(t, s.DB()))
}

func TestMigrate_TimestampRewriteIdempotent(t *testing.T) {
	path := tempPath(t)
	legacyWithStamps(t, path, "2026-10-14T23:30:00.0000000+02:00")

	db := rawDB(t, path)
	ctx := context.Background()
	first, err := database.Migrate(ctx, db, event.VariantServer, quietLogger)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Rewritten)

	// Force the step to run again on already normalized rows.
	_, err = db.Exec("UPDATE schema_version SET version = 3")
	require.NoError(t, err)
	second, err := database.Migrate(ctx, db, event.VariantServer, quietLogger)
	require.NoError(t, err)
	assert.Zero(t, second.Rewritten)
	assert.Equal(t, []string{"2026-10-14T21:30:00.0000000Z"}, storedStamps(t, db))
}

func TestMigrate_UpgradedOffsetRowsFollowRetention(t *testing.T) {
	path := tempPath(t)
	// 21:30Z, half an hour before the maintenance clock.
	legacyWithStamps(t, path, "2026-10-14T23:30:00.0000000+02:00")

	s := openStore(t, path, event.VariantServer)
	clk := &fakeClock{now: time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)}
	m := database.NewMaintainer(s, database.MaintenanceOptions{RetentionDays: 0, Clock: clk.Now})

	rep, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.RetentionDeleted)
	assert.Zero(t, count(t, s))
}
