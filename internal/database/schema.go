package database

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/jroosing/dnswatch/internal/event"
)

//go:embed schema_client.sql
var clientSchemaSQL string

//go:embed schema_server.sql
var serverSchemaSQL string

// CurrentSchemaVersion is the version a store is migrated to on open.
//
// Version history:
//
//	1 - legacy store without a schema_version table
//	2 - added error_category
//	3 - added raw_payload, correlation_id, parent_correlation_id (and
//	    event_id on server stores)
//	4 - timestamps stored with a UTC offset rewritten to TimestampLayout
const CurrentSchemaVersion = 4

const eventsTable = "dns_events"

type column struct {
	name string
	decl string
}

type index struct {
	name   string
	column string
}

// migrationStep lists the columns a store gains when moving to version, and
// an optional data rewrite run in the same transaction after them.
type migrationStep struct {
	version int
	columns []column
	rewrite func(ctx context.Context, tx *sql.Tx) (int64, error)
}

// tableSchema describes the events table layout of one variant.
type tableSchema struct {
	variant   event.Variant
	createSQL string
	columns   []string
	indexes   []index
	steps     []migrationStep
	bind      func(ev event.Event) []any
}

var clientTable = tableSchema{
	variant:   event.VariantClient,
	createSQL: clientSchemaSQL,
	columns: []string{
		"timestamp", "event_type", "event_id", "process_id", "process_name",
		"query_name", "query_type", "status", "query_results", "dns_server",
		"interface_index", "error_category", "raw_payload", "correlation_id",
		"parent_correlation_id",
	},
	indexes: []index{
		{"idx_timestamp", "timestamp"},
		{"idx_query_name", "query_name"},
		{"idx_query_results", "query_results"},
		{"idx_error_category", "error_category"},
		{"idx_process_name", "process_name"},
		{"idx_correlation_id", "correlation_id"},
	},
	steps: commonSteps,
	bind: func(ev event.Event) []any {
		return []any{
			event.FormatTimestamp(ev.Timestamp), ev.Kind, ev.EventID, ev.ProcessID, ev.ProcessName,
			ev.QueryName, ev.QueryType, ev.Status, ev.Results, ev.DNSServer,
			ev.InterfaceIndex, ev.ErrorCategory, ev.RawPayload, ev.CorrelationID,
			ev.ParentCorrelationID,
		}
	},
}

var serverTable = tableSchema{
	variant:   event.VariantServer,
	createSQL: serverSchemaSQL,
	columns: []string{
		"timestamp", "event_type", "event_id", "client_ip", "query_name",
		"query_type", "response_code", "resolved_ips", "zone", "error_category",
		"raw_payload", "correlation_id", "parent_correlation_id",
	},
	indexes: []index{
		{"idx_timestamp", "timestamp"},
		{"idx_query_name", "query_name"},
		{"idx_resolved_ips", "resolved_ips"},
		{"idx_error_category", "error_category"},
		{"idx_client_ip", "client_ip"},
		{"idx_correlation_id", "correlation_id"},
	},
	steps: commonSteps,
	bind: func(ev event.Event) []any {
		return []any{
			event.FormatTimestamp(ev.Timestamp), ev.Kind, ev.EventID, ev.ClientIP, ev.QueryName,
			ev.QueryType, ev.Status, ev.Results, ev.Zone, ev.ErrorCategory,
			ev.RawPayload, ev.CorrelationID, ev.ParentCorrelationID,
		}
	},
}

// commonSteps apply to both variants. Client stores always had event_id;
// the existence check makes its v3 entry a no-op there.
var commonSteps = []migrationStep{
	{version: 2, columns: []column{
		{"error_category", "TEXT"},
	}},
	{version: 3, columns: []column{
		{"raw_payload", "TEXT"},
		{"correlation_id", "INTEGER"},
		{"parent_correlation_id", "INTEGER"},
		{"event_id", "INTEGER"},
	}},
	{version: 4, rewrite: normalizeTimestamps},
}

func schemaFor(v event.Variant) tableSchema {
	if v == event.VariantServer {
		return serverTable
	}
	return clientTable
}

func (t tableSchema) insertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	return "INSERT INTO " + eventsTable + " (" + strings.Join(t.columns, ", ") + ") VALUES (" + placeholders + ")"
}
