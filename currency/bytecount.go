package currency

import (
	"errors"
	"fmt"
	"math"
)

// ChunkSize is the unit data volume is rounded up to when pricing uploads.
const ChunkSize = 262144

// ErrNotPositiveFinite is returned for negative, NaN or infinite inputs.
var ErrNotPositiveFinite = errors.New("currency: value must be a non-negative finite integer")

// PositiveInteger wraps a 64-bit integer that is guaranteed non-negative.
type PositiveInteger int64

// NewPositiveInteger validates and wraps v.
func NewPositiveInteger(v int64) (PositiveInteger, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNotPositiveFinite, v)
	}
	return PositiveInteger(v), nil
}

// PositiveIntegerFromFloat validates a float input, rejecting NaN, infinities,
// negatives and non-integral values.
func PositiveIntegerFromFloat(v float64) (PositiveInteger, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %v", ErrNotPositiveFinite, v)
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v overflows int64", ErrNotPositiveFinite, v)
	}
	return PositiveInteger(int64(v)), nil
}

// Int64 unwraps the value.
func (p PositiveInteger) Int64() int64 { return int64(p) }

// ByteCount is a non-negative data volume in bytes.
type ByteCount = PositiveInteger

// NewByteCount validates and wraps v.
func NewByteCount(v int64) (ByteCount, error) { return NewPositiveInteger(v) }

// RoundToChunkSize rounds a byte count up to the next chunk boundary. The
// result is always >= b, divisible by ChunkSize, and less than ChunkSize
// above b.
func RoundToChunkSize(b ByteCount) ByteCount {
	v := b.Int64()
	chunks := v / ChunkSize
	if v%ChunkSize != 0 {
		chunks++
	}
	return ByteCount(chunks * ChunkSize)
}
