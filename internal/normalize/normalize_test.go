package normalize_test

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/jroosing/dnswatch/internal/codes"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/normalize"
	"github.com/jroosing/dnswatch/internal/wire"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func mustAddr(s string) netip.Addr { return netip.MustParseAddr(s) }

type staticNames map[int64]string

func (s staticNames) Name(pid int64) (string, bool) {
	name, ok := s[pid]
	return name, ok
}

func newServer() *normalize.Normalizer {
	return normalize.New(event.VariantServer, normalize.Options{Clock: clock})
}

func newClient(names staticNames) *normalize.Normalizer {
	return normalize.New(event.VariantClient, normalize.Options{Clock: clock, Processes: names})
}

func responsePacket(t *testing.T, answers ...string) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Response = true
	for _, a := range answers {
		rr, err := dns.NewRR(a)
		require.NoError(t, err)
		m.Answer = append(m.Answer, rr)
	}
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

// =============================================================================
// Known vs unknown kinds
// =============================================================================

func TestNormalize_RawPayloadOnlyForUnknownKinds(t *testing.T) {
	fields := map[string]any{"QNAME": "example.com.", "QTYPE": uint16(1)}

	for id := range codes.ServerKinds {
		ev := newServer().Normalize(event.RawRecord{EventID: id, Fields: fields})
		assert.True(t, ev.Known(), "id %d", id)
		assert.False(t, ev.RawPayload.Valid, "id %d", id)
	}

	ev := newServer().Normalize(event.RawRecord{EventID: 999, Fields: fields})
	assert.False(t, ev.Known())
	assert.Equal(t, "EVENT_999", ev.Kind)
	require.True(t, ev.RawPayload.Valid)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(ev.RawPayload.V), &decoded))
	assert.Equal(t, map[string]any{"QNAME": "example.com.", "QTYPE": float64(1)}, decoded)
}

func TestNormalize_RawPayloadSerializesEveryField(t *testing.T) {
	rec := event.RawRecord{
		EventID: 4000,
		Fields: map[string]any{
			"b":      []byte{1, 2, 3},
			"a":      "text",
			"n":      int64(-5),
			"absent": nil,
		},
	}
	ev := newClient(nil).Normalize(rec)
	require.True(t, ev.RawPayload.Valid)
	assert.Equal(t, `{"a":"text","absent":null,"b":"AQID","n":-5}`, ev.RawPayload.V)
}

func TestNormalize_RawPayloadUnencodableValue(t *testing.T) {
	rec := event.RawRecord{EventID: 4001, Fields: map[string]any{"ch": make(chan int), "x": 1}}
	ev := newClient(nil).Normalize(rec)
	require.True(t, ev.RawPayload.Valid)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(ev.RawPayload.V), &decoded))
	assert.Contains(t, decoded, "ch")
	assert.Equal(t, float64(1), decoded["x"])
}

// =============================================================================
// Error classification
// =============================================================================

func TestNormalize_ServerClassification(t *testing.T) {
	tests := []struct {
		rcode    int
		status   string
		category string
	}{
		{0, "OK", ""},
		{1, "FormErr", event.CategoryClientError},
		{2, "ServFail", event.CategoryConfigError},
		{3, "NXDomain", event.CategoryConfigError},
		{5, "Refused", event.CategoryConfigError},
		{8, "NXRRSet", event.CategoryClientError},
		{15, "15", ""},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			ev := newServer().Normalize(event.RawRecord{
				EventID: codes.ServerResponse,
				Fields:  map[string]any{"RCODE": tt.rcode},
			})
			require.True(t, ev.Status.Valid)
			assert.Equal(t, tt.status, ev.Status.V)
			assert.Equal(t, tt.category != "", ev.ErrorCategory.Valid)
			assert.Equal(t, tt.category, ev.ErrorCategory.V)
		})
	}
}

func TestNormalize_ClientClassification(t *testing.T) {
	n := newClient(nil)
	for code := range codes.ClientClassifier().ConfigErrors {
		ev := n.Normalize(event.RawRecord{EventID: codes.ClientResponse, Fields: map[string]any{"QueryStatus": code}})
		assert.Equal(t, event.CategoryConfigError, ev.ErrorCategory.V, "status %d", code)
	}
	for code := range codes.ClientClassifier().ClientErrors {
		ev := n.Normalize(event.RawRecord{EventID: codes.ClientResponse, Fields: map[string]any{"Status": code}})
		assert.Equal(t, event.CategoryClientError, ev.ErrorCategory.V, "status %d", code)
	}
	ev := n.Normalize(event.RawRecord{EventID: codes.ClientResponse, Fields: map[string]any{"QueryStatus": "0"}})
	assert.Equal(t, "OK", ev.Status.V)
	assert.False(t, ev.ErrorCategory.Valid)
}

func TestNormalize_ClientStatusPrefersStatusField(t *testing.T) {
	n := newClient(nil)

	ev := n.Normalize(event.RawRecord{EventID: codes.ClientResponse, Fields: map[string]any{
		"Status":      uint32(1460),
		"QueryStatus": uint32(0),
	}})
	assert.Equal(t, "Timeout", ev.Status.V)
	assert.Equal(t, event.CategoryConfigError, ev.ErrorCategory.V)

	ev = n.Normalize(event.RawRecord{EventID: codes.ClientResponse, Fields: map[string]any{
		"Status":      nil,
		"QueryStatus": uint32(0),
	}})
	assert.Equal(t, "OK", ev.Status.V)
}

func TestNormalize_CustomClassifier(t *testing.T) {
	tables := codes.ForVariant(event.VariantServer)
	tables.Classifier = tables.Classifier.Extend(nil, []int{3})
	n := normalize.New(event.VariantServer, normalize.Options{Tables: &tables, Clock: clock})

	ev := n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: map[string]any{"RCODE": 3}})
	assert.Equal(t, event.CategoryClientError, ev.ErrorCategory.V)
}

// =============================================================================
// Field extraction
// =============================================================================

func TestNormalize_AbsenceForMissingFields(t *testing.T) {
	ev := newClient(nil).Normalize(event.RawRecord{EventID: codes.ClientQuery})

	assert.Equal(t, "QUERY", ev.Kind)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.False(t, ev.QueryName.Valid)
	assert.False(t, ev.QueryType.Valid)
	assert.False(t, ev.Status.Valid)
	assert.False(t, ev.Results.Valid)
	assert.False(t, ev.ErrorCategory.Valid)
	assert.False(t, ev.ProcessID.Valid)
	assert.False(t, ev.ProcessName.Valid)
	assert.False(t, ev.CorrelationID.Valid)
}

func TestNormalize_UnparsableFieldsBecomeAbsent(t *testing.T) {
	ev := newClient(nil).Normalize(event.RawRecord{
		EventID: codes.ClientQuery,
		Fields: map[string]any{
			"QueryName":        "   ",
			"QueryType":        []byte{1},
			"InterfaceIndex":   "not a number",
			"DNSServerAddress": []byte{9, 9},
		},
	})
	assert.False(t, ev.QueryName.Valid)
	assert.False(t, ev.QueryType.Valid)
	assert.False(t, ev.InterfaceIndex.Valid)
	assert.False(t, ev.DNSServer.Valid)
}

func TestNormalize_TrailingDotStripped(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com.", "example.com"},
		{"example.com", "example.com"},
		{".", "."},
	}
	for _, tt := range tests {
		ev := newServer().Normalize(event.RawRecord{EventID: codes.ServerQuery, Fields: map[string]any{"QNAME": tt.in}})
		assert.Equal(t, tt.want, ev.QueryName.V)
	}
}

func TestNormalize_CorrelationZeroIsAbsent(t *testing.T) {
	n := newClient(nil)

	ev := n.Normalize(event.RawRecord{EventID: codes.ClientQuery, Fields: map[string]any{
		"CorrelationId": uint64(0), "ParentCorrelationId": 0,
	}})
	assert.False(t, ev.CorrelationID.Valid)
	assert.False(t, ev.ParentCorrelationID.Valid)

	ev = n.Normalize(event.RawRecord{EventID: codes.ClientQuery, Fields: map[string]any{
		"QueryId": uint64(77), "ParentCorrelationId": "0x10",
	}})
	assert.Equal(t, int64(77), ev.CorrelationID.V)
	assert.Equal(t, int64(16), ev.ParentCorrelationID.V)
}

func TestNormalize_ClientIdentity(t *testing.T) {
	n := newClient(staticNames{1234: "chrome.exe"})

	ev := n.Normalize(event.RawRecord{
		EventID:   codes.ClientComplete,
		ProcessID: 1234,
		Fields: map[string]any{
			"QueryName":        "www.example.com",
			"QueryType":        uint32(28),
			"QueryStatus":      uint32(0),
			"QueryResults":     "type: 5 cdn.example.net;::ffff:192.0.2.1;",
			"DNSServerAddress": wire.EncodeAddress(mustAddr("192.0.2.53"), 53),
			"InterfaceIndex":   uint32(12),
		},
	})

	assert.Equal(t, "COMPLETE", ev.Kind)
	assert.Equal(t, int64(1234), ev.ProcessID.V)
	assert.Equal(t, "chrome.exe", ev.ProcessName.V)
	assert.Equal(t, "AAAA", ev.QueryType.V)
	assert.Equal(t, "OK", ev.Status.V)
	assert.Equal(t, "CNAME cdn.example.net;::ffff:192.0.2.1;", ev.Results.V)
	assert.Equal(t, "192.0.2.53", ev.DNSServer.V)
	assert.Equal(t, int64(12), ev.InterfaceIndex.V)
}

func TestNormalize_UnknownProcessLeavesNameAbsent(t *testing.T) {
	ev := newClient(staticNames{}).Normalize(event.RawRecord{EventID: codes.ClientQuery, ProcessID: 99})
	assert.Equal(t, int64(99), ev.ProcessID.V)
	assert.False(t, ev.ProcessName.Valid)
}

func TestNormalize_ServerPeerSelection(t *testing.T) {
	fields := map[string]any{
		"Source":      "198.51.100.7",
		"Destination": wire.EncodeAddress(mustAddr("2001:db8::9"), 53),
	}
	n := newServer()

	assert.Equal(t, "198.51.100.7", n.Normalize(event.RawRecord{EventID: codes.ServerQuery, Fields: fields}).ClientIP.V)
	assert.Equal(t, "198.51.100.7", n.Normalize(event.RawRecord{EventID: codes.ServerRecurseOut, Fields: fields}).ClientIP.V)
	assert.Equal(t, "2001:db8::9", n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: fields}).ClientIP.V)

	onlySource := map[string]any{"Source": "198.51.100.7"}
	assert.Equal(t, "198.51.100.7", n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: onlySource}).ClientIP.V)
}

// =============================================================================
// Wire decoding
// =============================================================================

func TestNormalize_AnswersOnlyForResponseClass(t *testing.T) {
	packet := responsePacket(t, "example.com. 60 IN A 93.184.216.34")
	n := newServer()

	for _, id := range []int{codes.ServerResponse, codes.ServerRecurseIn, codes.ServerRecurse} {
		ev := n.Normalize(event.RawRecord{EventID: id, Fields: map[string]any{"PacketData": packet}})
		assert.Equal(t, "93.184.216.34", ev.Results.V, "id %d", id)
	}
	for _, id := range []int{codes.ServerQuery, codes.ServerRecurseOut, codes.ServerTimeout} {
		ev := n.Normalize(event.RawRecord{EventID: id, Fields: map[string]any{"PacketData": packet}})
		assert.False(t, ev.Results.Valid, "id %d", id)
	}
}

func TestNormalize_AnswerParseErrorMarker(t *testing.T) {
	n := newServer()

	ev := n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: map[string]any{"PacketData": []byte{1, 2, 3}}})
	assert.Equal(t, wire.MarkerTruncated, ev.Results.V)

	packet := responsePacket(t, "example.com. 60 IN A 93.184.216.34")
	ev = n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: map[string]any{"PacketData": packet[:len(packet)-1]}})
	assert.True(t, wire.IsParseError(ev.Results.V), ev.Results.V)
}

func TestNormalize_AnswerParseErrorKeepsCodeCategory(t *testing.T) {
	n := newServer()
	packet := responsePacket(t, "example.com. 60 IN A 93.184.216.34")
	damaged := packet[:len(packet)-1]

	ev := n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: map[string]any{
		"RCODE": 0, "PacketData": damaged,
	}})
	assert.True(t, wire.IsParseError(ev.Results.V), ev.Results.V)
	assert.Equal(t, "OK", ev.Status.V)
	assert.False(t, ev.ErrorCategory.Valid, "a damaged answer section does not set a category")

	ev = n.Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: map[string]any{
		"RCODE": 3, "PacketData": damaged,
	}})
	assert.True(t, wire.IsParseError(ev.Results.V), ev.Results.V)
	assert.Equal(t, event.CategoryConfigError, ev.ErrorCategory.V)
}

func TestNormalize_MultipleAnswersJoined(t *testing.T) {
	packet := responsePacket(t,
		"example.com. 60 IN CNAME edge.example.net.",
		"edge.example.net. 60 IN A 192.0.2.10",
		"edge.example.net. 60 IN A 192.0.2.11",
	)
	ev := newServer().Normalize(event.RawRecord{EventID: codes.ServerResponse, Fields: map[string]any{"PacketData": packet}})
	assert.Equal(t, "CNAME:edge.example.net,192.0.2.10,192.0.2.11", ev.Results.V)
}

// =============================================================================
// End to end
// =============================================================================

func TestNormalize_QueryThenResponse(t *testing.T) {
	n := newServer()
	t0 := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)

	query := n.Normalize(event.RawRecord{
		EventID:   codes.ServerQuery,
		Timestamp: t0,
		Fields: map[string]any{
			"QNAME":  "example.com.",
			"QTYPE":  uint16(1),
			"Source": wire.EncodeAddress(mustAddr("10.0.0.5"), 40000),
			"XID":    uint16(4242),
		},
	})
	response := n.Normalize(event.RawRecord{
		EventID:   codes.ServerResponse,
		Timestamp: t0.Add(3 * time.Millisecond),
		Fields: map[string]any{
			"QNAME":       "example.com.",
			"QTYPE":       uint16(1),
			"RCODE":       uint8(0),
			"Destination": wire.EncodeAddress(mustAddr("10.0.0.5"), 40000),
			"XID":         uint16(4242),
			"PacketData":  responsePacket(t, "example.com. 60 IN A 93.184.216.34"),
		},
	})

	assert.Equal(t, "QUERY", query.Kind)
	assert.Equal(t, "example.com", query.QueryName.V)
	assert.Equal(t, "A", query.QueryType.V)
	assert.False(t, query.Status.Valid)
	assert.False(t, query.ErrorCategory.Valid)
	assert.Equal(t, "10.0.0.5", query.ClientIP.V)

	assert.Equal(t, "RESPONSE", response.Kind)
	assert.Equal(t, "OK", response.Status.V)
	assert.False(t, response.ErrorCategory.Valid)
	assert.Contains(t, response.Results.V, "93.184.216.34")
	assert.Equal(t, "10.0.0.5", response.ClientIP.V)

	require.True(t, query.CorrelationID.Valid)
	assert.Equal(t, query.CorrelationID, response.CorrelationID)
}

func TestNormalize_TimestampNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, loc)
	ev := newServer().Normalize(event.RawRecord{EventID: codes.ServerQuery, Timestamp: ts})
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.True(t, ts.Equal(ev.Timestamp))
}

type panickyNames struct{}

func (panickyNames) Name(int64) (string, bool) { panic("boom") }

func TestNormalize_RecoversFromPanic(t *testing.T) {
	n := normalize.New(event.VariantClient, normalize.Options{Clock: clock, Processes: panickyNames{}})

	var ev event.Event
	require.NotPanics(t, func() {
		ev = n.Normalize(event.RawRecord{EventID: 3999, ProcessID: 5, Fields: map[string]any{"QueryName": "x"}})
	})
	assert.Equal(t, "EVENT_3999", ev.Kind)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.True(t, ev.RawPayload.Valid)
	assert.False(t, ev.QueryName.Valid)
}
