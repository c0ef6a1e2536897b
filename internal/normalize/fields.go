package normalize

import (
	"database/sql"
	"strings"

	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/wire"
)

// FieldType selects how a raw field value is converted.
type FieldType int

const (
	// FieldText is a non-empty string.
	FieldText FieldType = iota
	// FieldInt is an integer of any width, or a decimal/hex string.
	FieldInt
	// FieldCode is an integer code resolved through a table later. A
	// non-numeric string is kept as an already-resolved name.
	FieldCode
	// FieldAddress is an IP given as text or as a sockaddr structure.
	FieldAddress
	// FieldBytes is an opaque binary blob.
	FieldBytes
)

// FieldSpec declares one field a kind expects. Aliases are tried in order
// after Name.
type FieldSpec struct {
	Name    string
	Aliases []string
	Type    FieldType
}

func (s FieldSpec) names() []string {
	return append([]string{s.Name}, s.Aliases...)
}

// fieldSet holds the typed values extracted for one record, keyed by the
// canonical field name. Missing or unparsable fields are simply not present.
type fieldSet struct {
	text  map[string]string
	ints  map[string]int64
	bytes map[string][]byte
}

func extract(rec event.RawRecord, specs []FieldSpec) fieldSet {
	fs := fieldSet{
		text:  make(map[string]string, len(specs)),
		ints:  make(map[string]int64, len(specs)),
		bytes: make(map[string][]byte),
	}
	for _, spec := range specs {
		v, ok := rec.Lookup(spec.names()...)
		if !ok {
			continue
		}
		switch spec.Type {
		case FieldText:
			if s, ok := event.AsString(v); ok {
				if s = strings.TrimSpace(s); s != "" {
					fs.text[spec.Name] = s
				}
			}
		case FieldInt:
			if n, ok := event.AsInt64(v); ok {
				fs.ints[spec.Name] = n
			}
		case FieldCode:
			if n, ok := event.AsInt64(v); ok {
				fs.ints[spec.Name] = n
			} else if s, ok := event.AsString(v); ok && strings.TrimSpace(s) != "" {
				fs.text[spec.Name] = strings.TrimSpace(s)
			}
		case FieldAddress:
			if b, ok := event.AsBytes(v); ok {
				if addr, ok := wire.DecodeAddress(b); ok {
					fs.text[spec.Name] = addr
				}
			} else if s, ok := event.AsString(v); ok && strings.TrimSpace(s) != "" {
				fs.text[spec.Name] = strings.TrimSpace(s)
			}
		case FieldBytes:
			if b, ok := event.AsBytes(v); ok {
				fs.bytes[spec.Name] = b
			}
		}
	}
	return fs
}

func (fs fieldSet) textValue(name string) sql.Null[string] {
	return event.Text(fs.text[name])
}

func (fs fieldSet) intValue(name string) (int64, bool) {
	n, ok := fs.ints[name]
	return n, ok
}

// nonZero returns the named integer, treating zero as absent.
func (fs fieldSet) nonZero(name string) sql.Null[int64] {
	return event.NonZero(fs.ints[name])
}

// firstText returns the first present text field among names.
func (fs fieldSet) firstText(names ...string) sql.Null[string] {
	for _, n := range names {
		if s, ok := fs.text[n]; ok {
			return event.Text(s)
		}
	}
	return sql.Null[string]{}
}
