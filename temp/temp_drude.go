// Package temp measures the temperature of the relative motion of Drude
// particles with respect to their cores.
package temp

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/comm"
	"github.com/notargets/DrudeKernel/drude"
)

// TempDrude is a temperature compute whose velocity bias for each group
// member is the velocity of its partner. Applied to the Drude particles it
// gives the temperature of the core/Drude relative motion.
type TempDrude struct {
	Comm     comm.Comm
	Store    *atom.Store
	Partners *drude.PartnerMap

	// InGroup selects the owned slots that contribute
	InGroup func(i int) bool

	Dimension int
	// ExtraDof and FixDof are subtracted from the group's degrees of freedom
	ExtraDof, FixDof float64
	// Dynamic recounts the group on every scalar evaluation
	Dynamic bool

	// MVV2E converts m*v^2 to energy, Boltz is Boltzmann's constant
	MVV2E, Boltz float64

	Logger *zap.Logger

	dof, tfactor float64
	vbias        [][3]float64
}

// NewTempDrude returns a compute over the Drude particles in 3 dimensions
// with unit conversion factors
func NewTempDrude(c comm.Comm, st *atom.Store, roles *drude.RoleTable, pm *drude.PartnerMap, logger *zap.Logger) *TempDrude {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TempDrude{
		Comm:     c,
		Store:    st,
		Partners: pm,
		InGroup: func(i int) bool {
			return roles.Of(st.Type[i]) == drude.Drude
		},
		Dimension: 3,
		MVV2E:     1,
		Boltz:     1,
		Logger:    logger,
	}
}

// Setup counts the group across ranks and fixes the conversion factor
func (tc *TempDrude) Setup(ctx context.Context) error {
	n := 0.0
	for i := 0; i < tc.Store.NLocal; i++ {
		if tc.InGroup(i) {
			n++
		}
	}
	out, err := tc.Comm.AllReduce(ctx, []float64{n}, comm.Sum)
	if err != nil {
		return fmt.Errorf("temp/drude: count group: %w", err)
	}
	tc.dof = float64(tc.Dimension)*out[0] - tc.ExtraDof - tc.FixDof
	if tc.dof > 0 {
		tc.tfactor = tc.MVV2E / (tc.dof * tc.Boltz)
	} else {
		tc.tfactor = 0
		tc.Logger.Warn("temp/drude has no degrees of freedom", zap.Float64("dof", tc.dof))
	}
	return nil
}

// DOF returns the degrees of freedom from the last Setup
func (tc *TempDrude) DOF() float64 {
	return tc.dof
}

// refreshBias stores the partner velocity of every group member
func (tc *TempDrude) refreshBias() error {
	st := tc.Store
	if cap(tc.vbias) < st.NMax() {
		tc.vbias = make([][3]float64, st.NMax())
	}
	tc.vbias = tc.vbias[:st.NMax()]
	for i := 0; i < st.NLocal; i++ {
		if !tc.InGroup(i) {
			continue
		}
		tag := tc.Partners.Partner(i)
		j := st.ClosestImage(i, st.Map(tag))
		if tag == 0 || j < 0 {
			return fmt.Errorf("temp/drude: partner %d of atom %d not present", tag, st.Tag[i])
		}
		tc.vbias[i] = st.V[j]
	}
	return nil
}

func (tc *TempDrude) thermal(i int) [3]float64 {
	v, b := tc.Store.V[i], tc.vbias[i]
	return [3]float64{v[0] - b[0], v[1] - b[1], v[2] - b[2]}
}

// ComputeScalar returns the temperature of the group's motion relative to
// the partners
func (tc *TempDrude) ComputeScalar(ctx context.Context) (float64, error) {
	if err := tc.refreshBias(); err != nil {
		return 0, err
	}
	st := tc.Store
	t := 0.0
	for i := 0; i < st.NLocal; i++ {
		if tc.InGroup(i) {
			vt := tc.thermal(i)
			t += floats.Dot(vt[:], vt[:]) * st.Mass[st.Type[i]]
		}
	}
	out, err := tc.Comm.AllReduce(ctx, []float64{t}, comm.Sum)
	if err != nil {
		return 0, fmt.Errorf("temp/drude: reduce scalar: %w", err)
	}
	if tc.Dynamic {
		if err := tc.Setup(ctx); err != nil {
			return 0, err
		}
	}
	return out[0] * tc.tfactor, nil
}

// ComputeVector returns the kinetic energy tensor of the relative motion as
// xx, yy, zz, xy, xz, yz
func (tc *TempDrude) ComputeVector(ctx context.Context) ([6]float64, error) {
	var vec [6]float64
	if err := tc.refreshBias(); err != nil {
		return vec, err
	}
	st := tc.Store
	t := make([]float64, 6)
	for i := 0; i < st.NLocal; i++ {
		if !tc.InGroup(i) {
			continue
		}
		m := st.Mass[st.Type[i]]
		vt := tc.thermal(i)
		floats.Add(t, []float64{
			m * vt[0] * vt[0],
			m * vt[1] * vt[1],
			m * vt[2] * vt[2],
			m * vt[0] * vt[1],
			m * vt[0] * vt[2],
			m * vt[1] * vt[2],
		})
	}
	out, err := tc.Comm.AllReduce(ctx, t, comm.Sum)
	if err != nil {
		return vec, fmt.Errorf("temp/drude: reduce vector: %w", err)
	}
	floats.Scale(tc.MVV2E, out)
	copy(vec[:], out)
	return vec, nil
}

// KineticTensor returns ComputeVector as a symmetric 3x3 matrix
func (tc *TempDrude) KineticTensor(ctx context.Context) (*mat.SymDense, error) {
	v, err := tc.ComputeVector(ctx)
	if err != nil {
		return nil, err
	}
	return mat.NewSymDense(3, []float64{
		v[0], v[3], v[4],
		v[3], v[1], v[5],
		v[4], v[5], v[2],
	}), nil
}

// RemoveBias subtracts the bias of slot i, captured by the last compute,
// from v
func (tc *TempDrude) RemoveBias(i int, v *[3]float64) {
	for d := 0; d < 3; d++ {
		v[d] -= tc.vbias[i][d]
	}
}

// RestoreBias undoes RemoveBias
func (tc *TempDrude) RestoreBias(i int, v *[3]float64) {
	for d := 0; d < 3; d++ {
		v[d] += tc.vbias[i][d]
	}
}

// RemoveBiasAll leaves only thermal velocities on every group member
func (tc *TempDrude) RemoveBiasAll() {
	for i := 0; i < tc.Store.NLocal; i++ {
		if tc.InGroup(i) {
			tc.RemoveBias(i, &tc.Store.V[i])
		}
	}
}

// RestoreBiasAll undoes RemoveBiasAll
func (tc *TempDrude) RestoreBiasAll() {
	for i := 0; i < tc.Store.NLocal; i++ {
		if tc.InGroup(i) {
			tc.RestoreBias(i, &tc.Store.V[i])
		}
	}
}
