// Package helpers provides integer conversions for values that arrive as
// unsigned wire fields but are stored as SQLite's signed 64-bit integers.
package helpers

import "math"

// ClampUint64ToInt64 converts u to int64, saturating at math.MaxInt64.
// Use it for magnitudes such as epoch seconds.
func ClampUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}

// Uint64BitsToInt64 reinterprets the bits of u as int64. Use it for opaque
// identifiers where equality matters and magnitude does not.
func Uint64BitsToInt64(u uint64) int64 {
	return int64(u) //nolint:gosec // bit-preserving for opaque ids
}
