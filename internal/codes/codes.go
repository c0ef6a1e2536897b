// Package codes holds the data-driven lookup tables that turn numeric trace
// codes into names: query types, client status codes, server response codes
// and event kinds. It also classifies status/response codes into error
// categories.
//
// Tables are plain maps so they can be extended from configuration without
// touching the normalizer.
package codes

import (
	"strconv"

	"github.com/jroosing/dnswatch/internal/event"
)

// Table maps a numeric code to its mnemonic.
type Table map[int]string

// Name returns the mnemonic for code, or its decimal rendering when unknown.
func (t Table) Name(code int) string {
	if name, ok := t[code]; ok {
		return name
	}
	return strconv.Itoa(code)
}

// Has reports whether code is present in the table.
func (t Table) Has(code int) bool {
	_, ok := t[code]
	return ok
}

// ClientQueryTypes are the record types the DNS client subsystem reports.
var ClientQueryTypes = Table{
	1: "A", 2: "NS", 5: "CNAME", 6: "SOA",
	12: "PTR", 15: "MX", 16: "TXT", 28: "AAAA",
	33: "SRV", 65: "HTTPS", 255: "ANY",
}

// ServerQueryTypes are the record types the DNS server subsystem reports.
var ServerQueryTypes = Table{
	1: "A", 2: "NS", 5: "CNAME", 6: "SOA",
	12: "PTR", 15: "MX", 16: "TXT", 28: "AAAA",
	33: "SRV", 35: "NAPTR", 37: "CERT",
	// DNSSEC
	43: "DS", 46: "RRSIG", 47: "NSEC", 48: "DNSKEY",
	50: "NSEC3", 51: "NSEC3PARAM",
	// TSIG/TKEY
	249: "TKEY", 250: "TSIG",
	52: "TLSA", 64: "SVCB", 65: "HTTPS",
	99: "SPF", 255: "ANY", 257: "CAA",
}

// ClientStatusCodes are Win32/DNS status values reported by the client
// subsystem.
var ClientStatusCodes = Table{
	0:     "OK",
	87:    "Cached",
	1168:  "NotFound",
	1214:  "InvalidName",
	1460:  "Timeout",
	9001:  "FormErr",
	9002:  "ServFail",
	9003:  "NXDomain",
	9004:  "NotImpl",
	9005:  "Refused",
	9007:  "YXDomain",
	9501:  "NoRecords",
	9560:  "Timeout",
	9701:  "NoRecord",
	9702:  "RecordFormat",
	11001: "HostNotFound",
	11002: "TryAgain",
	11003: "NoRecovery",
	11004: "NoData",
}

// ServerResponseCodes are wire RCODE values reported by the server subsystem.
var ServerResponseCodes = Table{
	0: "OK", 1: "FormErr", 2: "ServFail",
	3: "NXDomain", 4: "NotImpl", 5: "Refused",
	6: "YXDomain", 7: "YXRRSet", 8: "NXRRSet",
	9: "NotAuth", 10: "NotZone",
}

// Set is a membership set of numeric codes.
type Set map[int]struct{}

// NewSet builds a Set from codes.
func NewSet(codes ...int) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s Set) Contains(code int) bool {
	_, ok := s[code]
	return ok
}

// Classifier assigns CONFIG_ERROR or CLIENT_ERROR to a status/response code.
// The two sets must be disjoint; codes outside both classify as no category.
type Classifier struct {
	ConfigErrors Set
	ClientErrors Set
}

// Classify returns the category for code, or "" when it has none.
func (c Classifier) Classify(code int) string {
	switch {
	case c.ConfigErrors.Contains(code):
		return event.CategoryConfigError
	case c.ClientErrors.Contains(code):
		return event.CategoryClientError
	default:
		return ""
	}
}

// Extend returns a copy of c with extra codes added to each set. A code added
// to one set is removed from the other so the sets stay disjoint.
func (c Classifier) Extend(configErrors, clientErrors []int) Classifier {
	out := Classifier{ConfigErrors: Set{}, ClientErrors: Set{}}
	for code := range c.ConfigErrors {
		out.ConfigErrors[code] = struct{}{}
	}
	for code := range c.ClientErrors {
		out.ClientErrors[code] = struct{}{}
	}
	for _, code := range configErrors {
		delete(out.ClientErrors, code)
		out.ConfigErrors[code] = struct{}{}
	}
	for _, code := range clientErrors {
		delete(out.ConfigErrors, code)
		out.ClientErrors[code] = struct{}{}
	}
	return out
}

// Disjoint reports whether no code belongs to both sets.
func (c Classifier) Disjoint() bool {
	for code := range c.ConfigErrors {
		if c.ClientErrors.Contains(code) {
			return false
		}
	}
	return true
}

// ServerClassifier is the default classification of wire RCODEs.
func ServerClassifier() Classifier {
	return Classifier{
		ConfigErrors: NewSet(2, 3, 4, 5, 9, 10),
		ClientErrors: NewSet(1, 6, 7, 8),
	}
}

// ClientClassifier is the default classification of client status codes.
func ClientClassifier() Classifier {
	return Classifier{
		ConfigErrors: NewSet(1460, 9002, 9003, 9004, 9005, 9560, 11003),
		ClientErrors: NewSet(1214, 9001, 9702, 9007),
	}
}
