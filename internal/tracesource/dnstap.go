package tracesource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/jroosing/dnswatch/internal/codes"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/helpers"
	"github.com/miekg/dns"
	"google.golang.org/protobuf/proto"
)

const dnstapContentType = "protobuf:dnstap.Dnstap"

// DnstapSource listens on a unix socket for dnstap frames from a DNS server
// and turns them into server-variant raw records.
type DnstapSource struct {
	SocketPath string
	Logger     *slog.Logger
	Dropped    atomic.Uint64

	out      chan event.RawRecord
	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	stop   sync.Once
}

// NewDnstapSource creates a source for socketPath with a record buffer of
// the given size.
func NewDnstapSource(socketPath string, buffer int, logger *slog.Logger) *DnstapSource {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DnstapSource{
		SocketPath: socketPath,
		Logger:     logger,
		out:        make(chan event.RawRecord, buffer),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Records returns the record stream.
func (s *DnstapSource) Records() <-chan event.RawRecord {
	return s.out
}

// Start begins listening on the socket.
func (s *DnstapSource) Start() error {
	// Clean up old socket if exists
	_ = os.Remove(s.SocketPath)

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0o660); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to chmod socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.accept()

	s.Logger.Info("dnstap source listening", "socket", s.SocketPath)
	return nil
}

// Stop closes the listener and every open connection, waits for the
// handlers to finish and closes the record channel.
func (s *DnstapSource) Stop() {
	s.stop.Do(func() {
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Lock()
		s.closed = true
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		close(s.out)
	})
}

func (s *DnstapSource) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Stop closes the listener, which ends Accept.
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.Logger.Warn("dnstap accept failed", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *DnstapSource) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder, err := framestream.NewDecoder(conn, &framestream.DecoderOptions{
		ContentType:   []byte(dnstapContentType),
		Bidirectional: true,
	})
	if err != nil {
		s.Logger.Warn("dnstap handshake failed", "err", err)
		return
	}

	for {
		frame, err := decoder.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.Logger.Debug("dnstap decode stopped", "err", err)
			}
			return
		}

		rec, ok, err := RecordFromFrame(frame)
		if err != nil {
			s.Logger.Debug("dropping undecodable dnstap frame", "err", err)
			continue
		}
		if !ok {
			continue
		}

		// Non-blocking send (drop on overflow)
		select {
		case s.out <- rec:
		default:
			s.Dropped.Add(1)
		}
	}
}

// RecordFromFrame decodes one dnstap protobuf frame. The bool is false for
// frames that carry no message of a supported type.
func RecordFromFrame(frame []byte) (event.RawRecord, bool, error) {
	var dt dnstap.Dnstap
	if err := proto.Unmarshal(frame, &dt); err != nil {
		return event.RawRecord{}, false, fmt.Errorf("failed to unmarshal dnstap frame: %w", err)
	}
	if dt.Message == nil {
		return event.RawRecord{}, false, nil
	}
	rec, ok := RecordFromMessage(dt.Message)
	return rec, ok, nil
}

// RecordFromMessage maps a dnstap message to a server-variant raw record:
//
//	CLIENT_QUERY      -> QUERY (256), peer in Source
//	CLIENT_RESPONSE   -> RESPONSE (257), peer in Destination
//	RESOLVER_QUERY    -> RECURSE_OUT (258), upstream in Source
//	RESOLVER_RESPONSE -> RECURSE_IN (259), upstream in Destination
//
// Other message types report false.
func RecordFromMessage(msg *dnstap.Message) (event.RawRecord, bool) {
	var (
		id       int
		peerKey  string
		peer     []byte
		packet   []byte
		response bool
	)
	switch msg.GetType() {
	case dnstap.Message_CLIENT_QUERY:
		id, peerKey, peer, packet = codes.ServerQuery, "Source", msg.GetQueryAddress(), msg.GetQueryMessage()
	case dnstap.Message_CLIENT_RESPONSE:
		id, peerKey, peer, packet, response = codes.ServerResponse, "Destination", msg.GetQueryAddress(), msg.GetResponseMessage(), true
	case dnstap.Message_RESOLVER_QUERY:
		id, peerKey, peer, packet = codes.ServerRecurseOut, "Source", msg.GetResponseAddress(), msg.GetQueryMessage()
	case dnstap.Message_RESOLVER_RESPONSE:
		id, peerKey, peer, packet, response = codes.ServerRecurseIn, "Destination", msg.GetResponseAddress(), msg.GetResponseMessage(), true
	default:
		return event.RawRecord{}, false
	}

	rec := event.RawRecord{
		EventID:   id,
		Timestamp: messageTime(msg, response),
		Fields:    make(map[string]any, 8),
	}

	if addr, ok := netip.AddrFromSlice(peer); ok {
		rec.Fields[peerKey] = addr.Unmap().String()
	}
	if zone := msg.GetQueryZone(); len(zone) > 0 {
		if name, _, err := dns.UnpackDomainName(zone, 0); err == nil {
			rec.Fields["Zone"] = name
		}
	}

	if len(packet) > 0 {
		m := new(dns.Msg)
		if err := m.Unpack(packet); err == nil {
			rec.Fields["XID"] = m.Id
			if len(m.Question) > 0 {
				rec.Fields["QNAME"] = m.Question[0].Name
				rec.Fields["QTYPE"] = m.Question[0].Qtype
			}
			if response {
				rec.Fields["RCODE"] = m.Rcode
			}
		}
		if response {
			rec.Fields["PacketData"] = packet
		}
	}

	return rec, true
}

func messageTime(msg *dnstap.Message, response bool) time.Time {
	if response && msg.ResponseTimeSec != nil {
		return time.Unix(helpers.ClampUint64ToInt64(msg.GetResponseTimeSec()), int64(msg.GetResponseTimeNsec())).UTC()
	}
	if msg.QueryTimeSec != nil {
		return time.Unix(helpers.ClampUint64ToInt64(msg.GetQueryTimeSec()), int64(msg.GetQueryTimeNsec())).UTC()
	}
	// Zero: the normalizer substitutes its clock.
	return time.Time{}
}
