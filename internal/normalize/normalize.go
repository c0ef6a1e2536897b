// Package normalize turns loosely typed trace records into canonical events.
//
// Normalization is total: every field that is missing or cannot be parsed
// becomes absent, and a panic inside a decoder is recovered into an event
// that carries only its timestamp, kind and id.
package normalize

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jroosing/dnswatch/internal/codes"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/pool"
	"github.com/jroosing/dnswatch/internal/wire"
)

// Canonical field names.
const (
	fieldQueryName    = "QueryName"
	fieldQueryType    = "QueryType"
	fieldStatus       = "Status"
	fieldQueryResults = "QueryResults"
	fieldDNSServer    = "DNSServerAddress"
	fieldInterfaceIdx = "InterfaceIndex"
	fieldCorrelation  = "CorrelationId"
	fieldParentCorrID = "ParentCorrelationId"
	fieldQName        = "QNAME"
	fieldQType        = "QTYPE"
	fieldRCode        = "RCODE"
	fieldSource       = "Source"
	fieldDestination  = "Destination"
	fieldZone         = "Zone"
	fieldPacketData   = "PacketData"
)

var correlationFields = []FieldSpec{
	{Name: fieldCorrelation, Aliases: []string{"QueryId", "XID"}, Type: FieldInt},
	{Name: fieldParentCorrID, Type: FieldInt},
}

// ClientFields are extracted from every client record.
var ClientFields = append([]FieldSpec{
	{Name: fieldQueryName, Type: FieldText},
	{Name: fieldQueryType, Type: FieldCode},
	{Name: fieldStatus, Aliases: []string{"QueryStatus"}, Type: FieldCode},
	{Name: fieldQueryResults, Type: FieldText},
	{Name: fieldDNSServer, Aliases: []string{"Address"}, Type: FieldAddress},
	{Name: fieldInterfaceIdx, Type: FieldInt},
}, correlationFields...)

// ServerFields are extracted from every server record.
var ServerFields = append([]FieldSpec{
	{Name: fieldQName, Type: FieldText},
	{Name: fieldQType, Type: FieldCode},
	{Name: fieldRCode, Type: FieldCode},
	{Name: fieldSource, Type: FieldAddress},
	{Name: fieldDestination, Type: FieldAddress},
	{Name: fieldZone, Type: FieldText},
}, correlationFields...)

// ServerAnswerFields are extracted additionally from response-class server
// records, the only ones whose packet carries an answer section.
var ServerAnswerFields = []FieldSpec{
	{Name: fieldPacketData, Type: FieldBytes},
}

// ProcessNames resolves a process id to its executable name.
type ProcessNames interface {
	Name(pid int64) (string, bool)
}

// Options configures a Normalizer. Zero values select defaults.
type Options struct {
	// Tables overrides the default code tables for the variant.
	Tables *codes.Tables
	// Processes resolves client process names. Nil leaves names absent.
	Processes ProcessNames
	// Clock supplies timestamps for records that carry none.
	Clock  func() time.Time
	Logger *slog.Logger
}

// Normalizer converts RawRecords of one variant into Events. It holds no
// per-record state and is safe for concurrent use when its ProcessNames is.
type Normalizer struct {
	variant   event.Variant
	tables    codes.Tables
	processes ProcessNames
	clock     func() time.Time
	logger    *slog.Logger
}

// New creates a Normalizer for variant v.
func New(v event.Variant, opts Options) *Normalizer {
	n := &Normalizer{
		variant:   v,
		tables:    codes.ForVariant(v),
		processes: opts.Processes,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if opts.Tables != nil {
		n.tables = *opts.Tables
	}
	if n.clock == nil {
		n.clock = time.Now
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Variant returns the variant this normalizer produces.
func (n *Normalizer) Variant() event.Variant {
	return n.variant
}

// Normalize converts one raw record. It never fails.
func (n *Normalizer) Normalize(rec event.RawRecord) (ev event.Event) {
	kind, known := n.tables.KindName(rec.EventID)
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = n.clock()
	}
	base := event.Event{
		Variant:   n.variant,
		Timestamp: ts.UTC(),
		Kind:      kind,
		EventID:   rec.EventID,
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("normalize: recovered from panic", "event_id", rec.EventID, "panic", r)
			ev = base
			if !known {
				ev.RawPayload = event.Text(rawPayload(rec.Fields))
			}
		}
	}()

	ev = base
	if n.variant == event.VariantServer {
		n.fillServer(&ev, rec)
	} else {
		n.fillClient(&ev, rec)
	}

	if !known {
		ev.RawPayload = event.Text(rawPayload(rec.Fields))
	}
	return ev
}

func (n *Normalizer) fillClient(ev *event.Event, rec event.RawRecord) {
	fs := extract(rec, ClientFields)

	ev.QueryName = domainName(fs.text[fieldQueryName])
	ev.QueryType = n.codeName(fs, fieldQueryType, n.tables.QueryTypes)
	ev.Status, ev.ErrorCategory = n.status(fs, fieldStatus)
	if s, ok := fs.text[fieldQueryResults]; ok {
		ev.Results = event.Text(wire.FormatQueryResults(s, n.tables.QueryTypes))
	}
	ev.DNSServer = fs.textValue(fieldDNSServer)
	ev.InterfaceIndex = fs.nonZero(fieldInterfaceIdx)
	ev.CorrelationID = fs.nonZero(fieldCorrelation)
	ev.ParentCorrelationID = fs.nonZero(fieldParentCorrID)

	if rec.ProcessID > 0 {
		ev.ProcessID = event.Int(int64(rec.ProcessID))
		if n.processes != nil {
			if name, ok := n.processes.Name(int64(rec.ProcessID)); ok {
				ev.ProcessName = event.Text(name)
			}
		}
	}
}

func (n *Normalizer) fillServer(ev *event.Event, rec event.RawRecord) {
	specs := ServerFields
	responseClass := isResponseClass(rec.EventID)
	if responseClass {
		specs = append(append([]FieldSpec{}, ServerFields...), ServerAnswerFields...)
	}
	fs := extract(rec, specs)

	ev.QueryName = domainName(fs.text[fieldQName])
	ev.QueryType = n.codeName(fs, fieldQType, n.tables.QueryTypes)
	ev.Status, ev.ErrorCategory = n.status(fs, fieldRCode)
	ev.Zone = fs.textValue(fieldZone)
	ev.CorrelationID = fs.nonZero(fieldCorrelation)
	ev.ParentCorrelationID = fs.nonZero(fieldParentCorrID)

	if isQueryClass(rec.EventID) {
		ev.ClientIP = fs.firstText(fieldSource, fieldDestination)
	} else {
		ev.ClientIP = fs.firstText(fieldDestination, fieldSource)
	}

	if packet, ok := fs.bytes[fieldPacketData]; ok && responseClass {
		ev.Results = answerSummary(packet)
	}
}

// codeName resolves a numeric code field through table. Non-numeric values
// are taken as already-resolved names.
func (n *Normalizer) codeName(fs fieldSet, name string, table codes.Table) sql.Null[string] {
	if code, ok := fs.intValue(name); ok {
		return event.Text(table.Name(int(code)))
	}
	return fs.textValue(name)
}

// status resolves a status/response code field and classifies it. The
// category derives from the numeric code only; a pre-resolved name carries
// no category.
func (n *Normalizer) status(fs fieldSet, name string) (sql.Null[string], sql.Null[string]) {
	code, ok := fs.intValue(name)
	if !ok {
		return fs.textValue(name), sql.Null[string]{}
	}
	return event.Text(n.tables.Statuses.Name(int(code))), event.Text(n.tables.Classifier.Classify(int(code)))
}

func answerSummary(packet []byte) sql.Null[string] {
	answers, parseErr := wire.DecodeAnswers(packet)
	if parseErr != "" {
		return event.Text(parseErr)
	}
	return event.Text(strings.Join(answers, ","))
}

// domainName strips the trailing root label dot.
func domainName(s string) sql.Null[string] {
	s = strings.TrimSpace(s)
	if s != "." {
		s = strings.TrimSuffix(s, ".")
	}
	return event.Text(s)
}

func isQueryClass(id int) bool {
	return id == codes.ServerQuery || id == codes.ServerRecurseOut
}

func isResponseClass(id int) bool {
	return id == codes.ServerResponse || id == codes.ServerRecurseIn || id == codes.ServerRecurse
}

var payloadBuffers = pool.New(func() *bytes.Buffer { return new(bytes.Buffer) })

// rawPayload serializes the complete field map. encoding/json sorts map keys
// and base64-encodes byte slices; values it cannot encode fall back to their
// fmt rendering.
func rawPayload(fields map[string]any) string {
	if fields == nil {
		fields = map[string]any{}
	}
	if s, err := encodePayload(fields); err == nil {
		return s
	}
	safe := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, err := json.Marshal(v); err != nil {
			safe[k] = fmt.Sprint(v)
			continue
		}
		safe[k] = v
	}
	s, err := encodePayload(safe)
	if err != nil {
		return "{}"
	}
	return s
}

func encodePayload(v map[string]any) (string, error) {
	buf := payloadBuffers.Get()
	defer func() {
		buf.Reset()
		payloadBuffers.Put(buf)
	}()
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}
