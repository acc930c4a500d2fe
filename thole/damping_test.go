package thole

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"
)

func TestDampingLimits(t *testing.T) {
	// fully excluded pair: the correction cancels bare Coulomb at contact
	assert.InDelta(t, -1.0, FactorE(1e-9, 1), 1e-8)
	assert.InDelta(t, -1.0, FactorF(1e-9, 1), 1e-8)
	assert.InDelta(t, 0.0, FactorE(60, 1), 1e-12)
	assert.InDelta(t, 0.0, FactorF(60, 1), 1e-12)

	// special pair with Coulomb weight 0: damped interaction vanishes at
	// contact and becomes bare Coulomb far away
	assert.InDelta(t, 0.0, FactorE(1e-9, 0), 1e-8)
	assert.InDelta(t, 1.0, FactorE(60, 0), 1e-12)
	assert.InDelta(t, 1.0, FactorF(60, 0), 1e-12)

	assert.InDelta(t, 2.6, Screening(2.6, 1.0), 1e-15)
	assert.InDelta(t, 1.3, Screening(2.6, 8.0), 1e-15)
}

func TestDamping_ForceIsEnergyDerivative(t *testing.T) {
	tests := []struct {
		name     string
		a, c, fc float64
	}{
		{name: "ordinary", a: 2.6, c: 1, fc: 1},
		{name: "opposite charges", a: 2.6, c: -0.8, fc: 1},
		{name: "special 1-2", a: 1.7, c: 332.06, fc: 0},
		{name: "scaled", a: 0.9, c: 0.25, fc: 0.5},
	}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-5}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			energy := func(r float64) float64 {
				_, e := pairTerm(r*r, tc.a, tc.c, tc.fc)
				return e
			}
			for _, r := range []float64{0.3, 1.1, 2.9, 4.5} {
				fpair, e := pairTerm(r*r, tc.a, tc.c, tc.fc)
				assert.InDelta(t, tc.c*FactorE(tc.a*r, tc.fc)/r, e, 1e-12)

				dEdr := fd.Derivative(energy, r, settings)
				tol := 1e-6 * math.Max(1, math.Abs(dEdr))
				assert.InDelta(t, -dEdr, fpair*r, tol, "r=%g", r)
				assert.InDelta(t, tc.c*FactorF(tc.a*r, tc.fc)/(r*r), fpair*r, 1e-12*math.Abs(tc.c)/(r*r)+1e-15)
			}
		})
	}
}
