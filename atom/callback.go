package atom

import (
	"math"
)

// Callback is implemented by per-atom arrays that live beside the Store and
// must follow every slot mutation. The Store calls each registered Callback
// in lock-step with its own change; a skipped call would silently misalign
// the arrays.
type Callback interface {
	// Grow extends the array to nmax slots
	Grow(nmax int)

	// Copy moves slot src into slot dst. del reports that src is being
	// retired rather than duplicated.
	Copy(dst, src int, del bool)

	// PackExchange appends the fields of local slot i to an outgoing
	// migration record
	PackExchange(i int, buf []float64) []float64

	// UnpackExchange fills slot from a migration record and returns the
	// number of values consumed
	UnpackExchange(slot int, buf []float64) int

	// PackBorder appends one block for the ghosts built from list
	PackBorder(list []int, buf []float64) []float64

	// UnpackBorder fills ghost slots [first, first+n) and returns the
	// number of values consumed
	UnpackBorder(n, first int, buf []float64) int
}

// UBuf stores a tag in a float64 buffer bit-for-bit, so tags above 2^53
// survive the round trip
func UBuf(tag int64) float64 {
	return math.Float64frombits(uint64(tag))
}

// FromUBuf recovers a tag stored with UBuf
func FromUBuf(v float64) int64 {
	return int64(math.Float64bits(v))
}
