package sim

import (
	"math"
	"math/rand"

	"github.com/notargets/DrudeKernel/config"
)

// Site is one generated particle
type Site struct {
	Tag   int64
	Type  int
	X, V  [3]float64
	Q     float64
	Bonds []int64
}

// Lattice places one core/Drude dimer on every cell of a cubic lattice.
// The Drude sits Bond away from its core in a random direction and moves
// with its core plus a small relative velocity. Core k has tag 2k+1 and
// carries the bond record, its Drude has tag 2k+2.
func Lattice(sc config.SystemConfig) []Site {
	rng := rand.New(rand.NewSource(sc.Seed))
	n := sc.Cells
	sites := make([]Site, 0, 2*n*n*n)
	half := 0.5 * sc.Spacing
	tag := int64(1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				x := [3]float64{
					half + float64(i)*sc.Spacing,
					half + float64(j)*sc.Spacing,
					half + float64(k)*sc.Spacing,
				}
				u := randomUnit(rng)
				var v, dv [3]float64
				for d := 0; d < 3; d++ {
					v[d] = sc.Velocity * (rng.Float64() - 0.5)
					dv[d] = v[d] + 0.1*sc.Velocity*(rng.Float64()-0.5)
				}
				core := Site{Tag: tag, Type: sc.CoreType, X: x, V: v, Q: sc.Charge, Bonds: []int64{tag + 1}}
				drude := Site{Tag: tag + 1, Type: sc.DrudeType, V: dv, Q: -sc.Charge}
				for d := 0; d < 3; d++ {
					drude.X[d] = x[d] + sc.Bond*u[d]
				}
				sites = append(sites, core, drude)
				tag += 2
			}
		}
	}
	return sites
}

func randomUnit(rng *rand.Rand) [3]float64 {
	z := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	s := math.Sqrt(1 - z*z)
	return [3]float64{s * math.Cos(phi), s * math.Sin(phi), z}
}
