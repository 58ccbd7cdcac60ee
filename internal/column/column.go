// Package column implements the columnar builder: per-column typed vectors
// that accumulate rows one at a time and can be emitted as Filo-style
// encoded byte buffers, one per column.
//
// Each vector is a little-endian, length-prefixed encoding via
// encoding/binary: a uint32 row count followed by the column's fixed- or
// variable-width payload. This keeps decode O(1) per value for the
// fixed-width types and O(1)-amortized for strings (a single length
// prefix per value, no escaping or delimiters).
package column

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/helena/filodb/internal/projection"
)

// ErrValueTooLarge is returned by Emit when a string value's byte length
// cannot be represented in the vector's uint32 length prefix.
var ErrValueTooLarge = errors.New("column: string value exceeds maximum encodable length")

// exceedsLengthPrefix reports whether n cannot be represented in the
// uint32 length prefix stringBuilder.Emit writes ahead of each value.
func exceedsLengthPrefix(n int) bool {
	return uint64(n) > math.MaxUint32
}

// ColumnBuilder accumulates values for a single column across rows added
// since the last Reset, and can emit them as one encoded vector.
type ColumnBuilder interface {
	// Add appends the value at the given row's column ordinal.
	Add(row projection.Row, ordinal int)
	// Len returns the number of values accumulated since the last Reset.
	Len() int
	// Reset discards all accumulated values.
	Reset()
	// Emit encodes the accumulated values into a Filo-style byte vector.
	// Does not reset.
	Emit() ([]byte, error)
}

type int64Builder struct{ values []int64 }

func (b *int64Builder) Add(row projection.Row, ordinal int) {
	b.values = append(b.values, row.Int64(ordinal))
}
func (b *int64Builder) Len() int { return len(b.values) }
func (b *int64Builder) Reset()   { b.values = b.values[:0] }
func (b *int64Builder) Emit() ([]byte, error) {
	buf := make([]byte, 4+8*len(b.values))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b.values))) //nolint:gosec // G115: bounded by chunk_size
	off := 4
	for _, v := range b.values {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(v))
		off += 8
	}
	return buf, nil
}

type float64Builder struct{ values []float64 }

func (b *float64Builder) Add(row projection.Row, ordinal int) {
	b.values = append(b.values, row.Float64(ordinal))
}
func (b *float64Builder) Len() int { return len(b.values) }
func (b *float64Builder) Reset()   { b.values = b.values[:0] }
func (b *float64Builder) Emit() ([]byte, error) {
	buf := make([]byte, 4+8*len(b.values))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b.values))) //nolint:gosec // G115: bounded by chunk_size
	off := 4
	for _, v := range b.values {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
		off += 8
	}
	return buf, nil
}

type stringBuilder struct{ values []string }

func (b *stringBuilder) Add(row projection.Row, ordinal int) {
	b.values = append(b.values, row.String(ordinal))
}
func (b *stringBuilder) Len() int { return len(b.values) }
func (b *stringBuilder) Reset()   { b.values = b.values[:0] }
func (b *stringBuilder) Emit() ([]byte, error) {
	size := 4
	for _, v := range b.values {
		if exceedsLengthPrefix(len(v)) {
			return nil, ErrValueTooLarge
		}
		size += 4 + len(v)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b.values))) //nolint:gosec // G115: bounded by chunk_size
	off := 4
	for _, v := range b.values {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(v))) //nolint:gosec // G115: checked above
		off += 4
		copy(buf[off:], v)
		off += len(v)
	}
	return buf, nil
}

type boolBuilder struct{ values []bool }

func (b *boolBuilder) Add(row projection.Row, ordinal int) {
	b.values = append(b.values, row.Bool(ordinal))
}
func (b *boolBuilder) Len() int { return len(b.values) }
func (b *boolBuilder) Reset()   { b.values = b.values[:0] }
func (b *boolBuilder) Emit() ([]byte, error) {
	packed := (len(b.values) + 7) / 8
	buf := make([]byte, 4+packed)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b.values))) //nolint:gosec // G115: bounded by chunk_size
	for i, v := range b.values {
		if v {
			buf[4+i/8] |= 1 << uint(i%8)
		}
	}
	return buf, nil
}

func newColumnBuilder(t projection.ColumnType) ColumnBuilder {
	switch t {
	case projection.ColumnInt64:
		return &int64Builder{}
	case projection.ColumnFloat64:
		return &float64Builder{}
	case projection.ColumnString:
		return &stringBuilder{}
	case projection.ColumnBool:
		return &boolBuilder{}
	default:
		panic("column: unsupported column type")
	}
}
