package tracesource_test

import (
	"log/slog"
	"net"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/jroosing/dnswatch/internal/codes"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/normalize"
	"github.com/jroosing/dnswatch/internal/tracesource"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

var quietLogger = slog.New(slog.DiscardHandler)

func queryPacket(t *testing.T, id uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Id = id
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

func responsePacket(t *testing.T, id uint16, rcode int) []byte {
	t.Helper()
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = id
	m := new(dns.Msg)
	m.SetRcode(q, rcode)
	if rcode == dns.RcodeSuccess {
		rr, err := dns.NewRR("example.com. 60 IN A 93.184.216.34")
		require.NoError(t, err)
		m.Answer = append(m.Answer, rr)
	}
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

func clientQuery(t *testing.T) *dnstap.Message {
	return &dnstap.Message{
		Type:          dnstap.Message_CLIENT_QUERY.Enum(),
		QueryAddress:  netip.MustParseAddr("10.0.0.5").AsSlice(),
		QueryTimeSec:  proto.Uint64(1_767_225_600),
		QueryTimeNsec: proto.Uint32(500),
		QueryMessage:  queryPacket(t, 4242),
	}
}

func clientResponse(t *testing.T, rcode int) *dnstap.Message {
	return &dnstap.Message{
		Type:             dnstap.Message_CLIENT_RESPONSE.Enum(),
		QueryAddress:     netip.MustParseAddr("10.0.0.5").AsSlice(),
		QueryTimeSec:     proto.Uint64(1_767_225_600),
		ResponseTimeSec:  proto.Uint64(1_767_225_601),
		ResponseTimeNsec: proto.Uint32(0),
		ResponseMessage:  responsePacket(t, 4242, rcode),
	}
}

func TestRecordFromMessage_ClientQuery(t *testing.T) {
	rec, ok := tracesource.RecordFromMessage(clientQuery(t))
	require.True(t, ok)

	assert.Equal(t, codes.ServerQuery, rec.EventID)
	assert.Equal(t, time.Unix(1_767_225_600, 500).UTC(), rec.Timestamp)
	assert.Equal(t, "10.0.0.5", rec.Fields["Source"])
	assert.Equal(t, "example.com.", rec.Fields["QNAME"])
	assert.Equal(t, dns.TypeA, rec.Fields["QTYPE"])
	assert.Equal(t, uint16(4242), rec.Fields["XID"])
	assert.NotContains(t, rec.Fields, "PacketData")
	assert.NotContains(t, rec.Fields, "RCODE")
}

func TestRecordFromMessage_ClientResponse(t *testing.T) {
	rec, ok := tracesource.RecordFromMessage(clientResponse(t, dns.RcodeNameError))
	require.True(t, ok)

	assert.Equal(t, codes.ServerResponse, rec.EventID)
	assert.Equal(t, time.Unix(1_767_225_601, 0).UTC(), rec.Timestamp)
	assert.Equal(t, "10.0.0.5", rec.Fields["Destination"])
	assert.Equal(t, dns.RcodeNameError, rec.Fields["RCODE"])
	assert.Contains(t, rec.Fields, "PacketData")
}

func TestRecordFromMessage_ResolverTypes(t *testing.T) {
	upstream := netip.MustParseAddr("2001:db8::53").AsSlice()

	rec, ok := tracesource.RecordFromMessage(&dnstap.Message{
		Type:            dnstap.Message_RESOLVER_QUERY.Enum(),
		ResponseAddress: upstream,
		QueryMessage:    queryPacket(t, 1),
		QueryZone:       []byte("\x07example\x03com\x00"),
	})
	require.True(t, ok)
	assert.Equal(t, codes.ServerRecurseOut, rec.EventID)
	assert.Equal(t, "2001:db8::53", rec.Fields["Source"])
	assert.Equal(t, "example.com.", rec.Fields["Zone"])
	assert.True(t, rec.Timestamp.IsZero())

	rec, ok = tracesource.RecordFromMessage(&dnstap.Message{
		Type:            dnstap.Message_RESOLVER_RESPONSE.Enum(),
		ResponseAddress: upstream,
		ResponseMessage: responsePacket(t, 1, dns.RcodeSuccess),
	})
	require.True(t, ok)
	assert.Equal(t, codes.ServerRecurseIn, rec.EventID)
	assert.Equal(t, "2001:db8::53", rec.Fields["Destination"])
}

func TestRecordFromMessage_UnsupportedType(t *testing.T) {
	_, ok := tracesource.RecordFromMessage(&dnstap.Message{Type: dnstap.Message_AUTH_QUERY.Enum()})
	assert.False(t, ok)
}

func TestRecordFromFrame(t *testing.T) {
	frame, err := proto.Marshal(&dnstap.Dnstap{
		Type:    dnstap.Dnstap_MESSAGE.Enum(),
		Message: clientQuery(t),
	})
	require.NoError(t, err)

	rec, ok, err := tracesource.RecordFromFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codes.ServerQuery, rec.EventID)

	_, _, err = tracesource.RecordFromFrame([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestRecordFromMessage_NormalizesEndToEnd(t *testing.T) {
	n := normalize.New(event.VariantServer, normalize.Options{Logger: quietLogger})

	qrec, ok := tracesource.RecordFromMessage(clientQuery(t))
	require.True(t, ok)
	rrec, ok := tracesource.RecordFromMessage(clientResponse(t, dns.RcodeSuccess))
	require.True(t, ok)

	q := n.Normalize(qrec)
	r := n.Normalize(rrec)

	assert.Equal(t, "QUERY", q.Kind)
	assert.Equal(t, "example.com", q.QueryName.V)
	assert.Equal(t, "A", q.QueryType.V)
	assert.False(t, q.Status.Valid)
	assert.Equal(t, "10.0.0.5", q.ClientIP.V)

	assert.Equal(t, "RESPONSE", r.Kind)
	assert.Equal(t, "OK", r.Status.V)
	assert.False(t, r.ErrorCategory.Valid)
	assert.Equal(t, "93.184.216.34", r.Results.V)
	assert.Equal(t, q.CorrelationID, r.CorrelationID)
}

func TestDnstapSource_ReceivesFrames(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "dnstap.sock")
	src := tracesource.NewDnstapSource(socket, 16, quietLogger)
	require.NoError(t, src.Start())

	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn.Close()

	enc, err := framestream.NewEncoder(conn, &framestream.EncoderOptions{
		ContentType:   []byte("protobuf:dnstap.Dnstap"),
		Bidirectional: true,
	})
	require.NoError(t, err)

	frame, err := proto.Marshal(&dnstap.Dnstap{Type: dnstap.Dnstap_MESSAGE.Enum(), Message: clientQuery(t)})
	require.NoError(t, err)
	_, err = enc.Write(frame)
	require.NoError(t, err)
	require.NoError(t, enc.Flush())

	select {
	case rec := <-src.Records():
		assert.Equal(t, codes.ServerQuery, rec.EventID)
	case <-time.After(5 * time.Second):
		t.Fatal("no record received")
	}

	src.Stop()
	_, open := <-src.Records()
	assert.False(t, open, "records channel closes on Stop")
}
