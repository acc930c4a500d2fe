package thole

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DrudeKernel/comm"
)

// Tally is the pair energy and virial of one Compute call. Virial holds
// xx, yy, zz, xy, xz, yz.
type Tally struct {
	Energy float64
	Virial [6]float64
}

func (t *Tally) add(i, j, nlocal int, newton, eflag, vflag bool, ecoul, fpair float64, del [3]float64) {
	w := 1.0
	if !newton {
		w = 0
		if i < nlocal {
			w += 0.5
		}
		if j < nlocal {
			w += 0.5
		}
	}
	if eflag {
		t.Energy += w * ecoul
	}
	if vflag {
		f := w * fpair
		t.Virial[0] += del[0] * del[0] * f
		t.Virial[1] += del[1] * del[1] * f
		t.Virial[2] += del[2] * del[2] * f
		t.Virial[3] += del[0] * del[1] * f
		t.Virial[4] += del[0] * del[2] * f
		t.Virial[5] += del[1] * del[2] * f
	}
}

// Reduce sums the tallies of all ranks
func (t Tally) Reduce(ctx context.Context, c comm.Comm) (Tally, error) {
	vals := append([]float64{t.Energy}, t.Virial[:]...)
	out, err := c.AllReduce(ctx, vals, comm.Sum)
	if err != nil {
		return Tally{}, fmt.Errorf("thole: reduce tally: %w", err)
	}
	var sum Tally
	sum.Energy = out[0]
	copy(sum.Virial[:], out[1:])
	return sum, nil
}

// VirialTensor returns the virial as a symmetric 3x3 matrix
func (t Tally) VirialTensor() *mat.SymDense {
	v := t.Virial
	return mat.NewSymDense(3, []float64{
		v[0], v[3], v[4],
		v[3], v[1], v[5],
		v[4], v[5], v[2],
	})
}
