package comm

import (
	"encoding/binary"
	"math"
)

// EncodeFloats flattens a float64 buffer to bytes for the wire
func EncodeFloats(vals []float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// DecodeFloats is the inverse of EncodeFloats. Trailing bytes that do not
// form a full value are ignored.
func DecodeFloats(buf []byte) []float64 {
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out
}
