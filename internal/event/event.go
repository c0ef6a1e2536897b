// Package event defines the canonical DNS event shape shared by the
// normalizer, the write-batch queue and the durable store.
//
// Two closely related variants exist:
//   - client: events from the local DNS client subsystem (which process asked what)
//   - server: events from a DNS server (which peer asked what, what was answered)
//
// Both variants share one struct. Fields that do not apply to a variant stay
// absent (sql.Null with Valid=false) and are never persisted for it.
package event

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Variant selects the client or server flavour of events and store schema.
type Variant int

const (
	// VariantClient records local DNS client activity.
	VariantClient Variant = iota
	// VariantServer records DNS server activity.
	VariantServer
)

// String returns the config/CLI spelling of the variant.
func (v Variant) String() string {
	switch v {
	case VariantClient:
		return "client"
	case VariantServer:
		return "server"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant parses "client" or "server" (case-insensitive).
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client", "":
		return VariantClient, nil
	case "server":
		return VariantServer, nil
	default:
		return 0, fmt.Errorf("unknown watcher variant %q (want client or server)", s)
	}
}

// Error categories assigned from the resolved status/response code.
const (
	CategoryConfigError = "CONFIG_ERROR"
	CategoryClientError = "CLIENT_ERROR"
)

// TimestampLayout is the on-disk timestamp format. It is fixed width and UTC so
// that lexical order of the stored text equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.0000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Event is one normalized DNS event. Timestamp, Kind and EventID are always
// set; every other field is either a parsed value or explicit absence.
type Event struct {
	Variant   Variant
	Timestamp time.Time
	Kind      string
	EventID   int

	QueryName     sql.Null[string]
	QueryType     sql.Null[string]
	Status        sql.Null[string] // status (client) / response_code (server)
	Results       sql.Null[string] // query_results (client) / resolved_ips (server)
	ErrorCategory sql.Null[string]

	CorrelationID       sql.Null[int64]
	ParentCorrelationID sql.Null[int64]
	RawPayload          sql.Null[string]

	// Client identity.
	ProcessID      sql.Null[int64]
	ProcessName    sql.Null[string]
	DNSServer      sql.Null[string]
	InterfaceIndex sql.Null[int64]

	// Server identity.
	ClientIP sql.Null[string]
	Zone     sql.Null[string]
}

// Known reports whether the event kind came from the recognized allowlist.
func (e Event) Known() bool {
	return !e.RawPayload.Valid
}

// Text wraps s as a present value, or absence when s is empty.
func Text(s string) sql.Null[string] {
	if s == "" {
		return sql.Null[string]{}
	}
	return sql.Null[string]{V: s, Valid: true}
}

// Int wraps n as a present value.
func Int(n int64) sql.Null[int64] {
	return sql.Null[int64]{V: n, Valid: true}
}

// NonZero wraps n as a present value, or absence when n is zero.
func NonZero(n int64) sql.Null[int64] {
	if n == 0 {
		return sql.Null[int64]{}
	}
	return Int(n)
}
