// Package wire decodes the binary blobs found in DNS trace payloads: socket
// address structures and DNS answer sections. Every decoder is infallible at
// its boundary; malformed input maps to absence or a parse-error marker.
package wire

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

// ErrMalformed marks input that could not be decoded.
var ErrMalformed = errors.New("malformed wire data")

// Address family values found in sockaddr structures. Windows and Linux use
// different numbers for IPv6.
const (
	familyINet         = 2
	familyINet6Windows = 23
	familyINet6Linux   = 10
)

const (
	sockaddrInLen  = 16
	sockaddrIn6Len = 28
)

// DecodeAddress turns a sockaddr_in / sockaddr_in6 structure into its
// textual IP. It reports false for anything else, including bare addresses:
// a 16 byte IPv6 address can start with the AF_INET family bytes.
func DecodeAddress(b []byte) (string, bool) {
	addr, err := parseSockaddr(b)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}

func parseSockaddr(b []byte) (netip.Addr, error) {
	if len(b) < 2 {
		return netip.Addr{}, ErrMalformed
	}
	switch binary.LittleEndian.Uint16(b[0:2]) {
	case familyINet:
		if len(b) < sockaddrInLen || !allZero(b[8:sockaddrInLen]) {
			return netip.Addr{}, ErrMalformed
		}
		return netip.AddrFrom4([4]byte(b[4:8])), nil
	case familyINet6Windows, familyINet6Linux:
		if len(b) < sockaddrIn6Len-4 {
			return netip.Addr{}, ErrMalformed
		}
		return netip.AddrFrom16([16]byte(b[8:24])).Unmap(), nil
	default:
		return netip.Addr{}, ErrMalformed
	}
}

// allZero reports whether b is all zero bytes (sin_zero padding).
func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// sockaddrIn builds a sockaddr_in.
func sockaddrIn(addr netip.Addr, port uint16) []byte {
	b := make([]byte, sockaddrInLen)
	binary.LittleEndian.PutUint16(b[0:2], familyINet)
	binary.BigEndian.PutUint16(b[2:4], port)
	a4 := addr.As4()
	copy(b[4:8], a4[:])
	return b
}

// sockaddrIn6 builds a Windows-style sockaddr_in6.
func sockaddrIn6(addr netip.Addr, port uint16) []byte {
	b := make([]byte, sockaddrIn6Len)
	binary.LittleEndian.PutUint16(b[0:2], familyINet6Windows)
	binary.BigEndian.PutUint16(b[2:4], port)
	a16 := addr.As16()
	copy(b[8:24], a16[:])
	return b
}

// EncodeAddress renders addr as the sockaddr structure DecodeAddress reads.
func EncodeAddress(addr netip.Addr, port uint16) []byte {
	if addr.Is4() || addr.Is4In6() {
		return sockaddrIn(addr.Unmap(), port)
	}
	return sockaddrIn6(addr, port)
}
