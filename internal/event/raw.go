package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jroosing/dnswatch/internal/helpers"
)

// RawRecord is one trace record as delivered by a trace source. Field values
// are loosely typed: strings, any integer width, byte slices or nil.
type RawRecord struct {
	EventID   int
	Timestamp time.Time
	ProcessID int
	Fields    map[string]any
}

// Lookup returns the first present field among names.
func (r RawRecord) Lookup(names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := r.Fields[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// AsString renders a field value as text. Byte slices are not text and are
// reported as absent.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return "", false
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

// AsInt64 converts a field value to an integer. Strings are trimmed and
// parsed as decimal, or as hex with a 0x prefix. Unsigned 64-bit values keep
// their bits, so large opaque ids come back negative.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return helpers.Uint64BitsToInt64(uint64(x)), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return helpers.Uint64BitsToInt64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			u, err := strconv.ParseUint(s[2:], 16, 64)
			if err != nil {
				return 0, false
			}
			return helpers.Uint64BitsToInt64(u), true
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// AsBytes returns a field value as a byte slice.
func AsBytes(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	if !ok || b == nil {
		return nil, false
	}
	return b, true
}
