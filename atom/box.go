package atom

import (
	"fmt"
	"math"
)

// Box is an orthogonal simulation cell, periodic per dimension
type Box struct {
	Lo, Hi   [3]float64
	Periodic [3]bool
}

// NewPeriodicBox returns a fully periodic box [0,lx) x [0,ly) x [0,lz)
func NewPeriodicBox(lx, ly, lz float64) Box {
	return Box{
		Hi:       [3]float64{lx, ly, lz},
		Periodic: [3]bool{true, true, true},
	}
}

// Length returns the edge length along dimension d
func (b Box) Length(d int) float64 {
	return b.Hi[d] - b.Lo[d]
}

// Validate checks the box has positive extent
func (b Box) Validate() error {
	for d := 0; d < 3; d++ {
		if !(b.Hi[d] > b.Lo[d]) {
			return fmt.Errorf("box dimension %d has non-positive length [%g,%g)", d, b.Lo[d], b.Hi[d])
		}
	}
	return nil
}

// MinimumImage maps a separation vector to its shortest periodic image
func (b Box) MinimumImage(del [3]float64) [3]float64 {
	for d := 0; d < 3; d++ {
		if !b.Periodic[d] {
			continue
		}
		l := b.Length(d)
		if math.Abs(del[d]) > 0.5*l {
			del[d] -= l * math.Round(del[d]/l)
		}
	}
	return del
}

// Wrap remaps a position into the primary cell along periodic dimensions
func (b Box) Wrap(x [3]float64) [3]float64 {
	for d := 0; d < 3; d++ {
		if !b.Periodic[d] {
			continue
		}
		l := b.Length(d)
		x[d] = b.Lo[d] + math.Mod(x[d]-b.Lo[d], l)
		if x[d] < b.Lo[d] {
			x[d] += l
		}
		if x[d] >= b.Hi[d] {
			x[d] = b.Lo[d]
		}
	}
	return x
}

// Dist2 returns the squared distance between two positions, no images
func Dist2(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}
