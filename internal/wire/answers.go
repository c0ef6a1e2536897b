package wire

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Parse-error markers folded into an event's answer summary.
const (
	MarkerTruncated = "TRUNCATED"
	markerMalformed = "MALFORMED:"
)

// headerLen is the fixed DNS message header size.
const headerLen = 12

// DecodeAnswers parses a DNS message and formats each answer record. The
// second return value is a parse-error marker, empty on success. A nil
// packet yields no answers and no marker.
func DecodeAnswers(packet []byte) (answers []string, parseError string) {
	if packet == nil {
		return nil, ""
	}
	if len(packet) < headerLen {
		return nil, MarkerTruncated
	}

	defer func() {
		if r := recover(); r != nil {
			parseError = Malformed(fmt.Errorf("%w: %v", ErrMalformed, r))
		}
	}()

	msg := new(dns.Msg)
	if err := msg.Unpack(packet); err != nil {
		return nil, Malformed(err)
	}

	answers = make([]string, 0, len(msg.Answer))
	for _, rr := range msg.Answer {
		answers = append(answers, FormatRecord(rr))
	}
	return answers, ""
}

// Malformed renders the parse-error marker for err.
func Malformed(err error) string {
	return markerMalformed + err.Error()
}

// IsParseError reports whether s is a parse-error marker.
func IsParseError(s string) bool {
	return s == MarkerTruncated || strings.HasPrefix(s, markerMalformed)
}

// FormatRecord renders one resource record in the compact answer form:
// bare addresses for A/AAAA, TYPE:rdata otherwise.
func FormatRecord(rr dns.RR) string {
	switch r := rr.(type) {
	case *dns.A:
		return r.A.String()
	case *dns.AAAA:
		return r.AAAA.String()
	case *dns.CNAME:
		return "CNAME:" + trimDot(r.Target)
	case *dns.MX:
		return fmt.Sprintf("MX:%d %s", r.Preference, trimDot(r.Mx))
	case *dns.NS:
		return "NS:" + trimDot(r.Ns)
	case *dns.PTR:
		return "PTR:" + trimDot(r.Ptr)
	case *dns.TXT:
		return "TXT:" + strings.Join(r.Txt, " ")
	case *dns.SRV:
		return fmt.Sprintf("SRV:%d %d %d %s", r.Priority, r.Weight, r.Port, trimDot(r.Target))
	case *dns.SOA:
		return fmt.Sprintf("SOA:%s %s", trimDot(r.Ns), trimDot(r.Mbox))
	case *dns.CAA:
		return fmt.Sprintf("CAA:%d %s %s", r.Flag, r.Tag, r.Value)
	default:
		hdr := rr.Header()
		rdata := strings.TrimSpace(strings.TrimPrefix(rr.String(), hdr.String()))
		return dns.TypeToString[hdr.Rrtype] + ":" + rdata
	}
}

func trimDot(name string) string {
	if len(name) > 1 {
		return strings.TrimSuffix(name, ".")
	}
	return name
}
