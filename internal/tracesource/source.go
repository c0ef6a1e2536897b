// Package tracesource delivers raw DNS trace records to the ingestion loop.
//
// A Source owns its subscription lifecycle; the core only consumes the
// channel it exposes. Records() is closed after Stop returns, which ends the
// ingestion loop and triggers its final flush.
package tracesource

import "github.com/jroosing/dnswatch/internal/event"

// Source is a stream of raw trace records.
type Source interface {
	Start() error
	Stop()
	Records() <-chan event.RawRecord
}

// DefaultBuffer is the record channel capacity.
const DefaultBuffer = 4096
