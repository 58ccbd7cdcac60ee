package column

import (
	"encoding/binary"
	"math"
)

// DecodeInt64 decodes a Filo-style int64 vector produced by int64Builder.Emit.
func DecodeInt64(vec []byte) []int64 {
	count := binary.LittleEndian.Uint32(vec[0:4])
	out := make([]int64, count)
	off := 4
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(vec[off : off+8]))
		off += 8
	}
	return out
}

// DecodeFloat64 decodes a Filo-style float64 vector produced by
// float64Builder.Emit.
func DecodeFloat64(vec []byte) []float64 {
	count := binary.LittleEndian.Uint32(vec[0:4])
	out := make([]float64, count)
	off := 4
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(vec[off : off+8]))
		off += 8
	}
	return out
}

// DecodeString decodes a Filo-style string vector produced by
// stringBuilder.Emit.
func DecodeString(vec []byte) []string {
	count := binary.LittleEndian.Uint32(vec[0:4])
	out := make([]string, count)
	off := 4
	for i := range out {
		l := binary.LittleEndian.Uint32(vec[off : off+4])
		off += 4
		out[i] = string(vec[off : off+int(l)])
		off += int(l)
	}
	return out
}

// DecodeBool decodes a Filo-style bool vector produced by boolBuilder.Emit.
func DecodeBool(vec []byte) []bool {
	count := binary.LittleEndian.Uint32(vec[0:4])
	out := make([]bool, count)
	for i := range out {
		out[i] = vec[4+i/8]&(1<<uint(i%8)) != 0
	}
	return out
}
