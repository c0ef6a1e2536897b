package codes

import (
	"strconv"

	"github.com/jroosing/dnswatch/internal/event"
)

// Client trace event ids.
const (
	ClientServerList = 1001
	ClientQuery      = 3006
	ClientComplete   = 3008
	ClientSend       = 3009
	ClientCache      = 3018
	ClientResponse   = 3020
)

// Server trace event ids.
const (
	ServerQuery          = 256
	ServerResponse       = 257
	ServerRecurseOut     = 258
	ServerRecurseIn      = 259
	ServerTimeout        = 260
	ServerRecurse        = 261
	ServerInternalLookup = 280
)

// ClientKinds is the allowlist of recognized client event ids.
var ClientKinds = Table{
	ClientServerList: "SERVER_LIST",
	ClientQuery:      "QUERY",
	ClientComplete:   "COMPLETE",
	ClientSend:       "SEND",
	ClientCache:      "CACHE",
	ClientResponse:   "RESPONSE",
}

// ServerKinds is the allowlist of recognized server event ids.
var ServerKinds = Table{
	ServerQuery:          "QUERY",
	ServerResponse:       "RESPONSE",
	ServerRecurseOut:     "RECURSE_OUT",
	ServerRecurseIn:      "RECURSE_IN",
	ServerTimeout:        "TIMEOUT",
	ServerRecurse:        "RECURSE",
	ServerInternalLookup: "INTERNAL_LOOKUP",
}

// Tables bundles every lookup used to normalize one variant.
type Tables struct {
	Kinds      Table
	QueryTypes Table
	Statuses   Table
	Classifier Classifier
}

// ForVariant returns the default tables for v.
func ForVariant(v event.Variant) Tables {
	if v == event.VariantServer {
		return Tables{
			Kinds:      ServerKinds,
			QueryTypes: ServerQueryTypes,
			Statuses:   ServerResponseCodes,
			Classifier: ServerClassifier(),
		}
	}
	return Tables{
		Kinds:      ClientKinds,
		QueryTypes: ClientQueryTypes,
		Statuses:   ClientStatusCodes,
		Classifier: ClientClassifier(),
	}
}

// KindName returns the allowlisted name for id and whether it is known.
// Unknown ids render as EVENT_<id>.
func (t Tables) KindName(id int) (string, bool) {
	if name, ok := t.Kinds[id]; ok {
		return name, true
	}
	return "EVENT_" + strconv.Itoa(id), false
}
