package temp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/comm"
	"github.com/notargets/DrudeKernel/drude"
	"github.com/notargets/DrudeKernel/partitions"
)

type particle struct {
	tag   int64
	typ   int
	x, v  [3]float64
	bonds []int64
}

// two dimers: cores move with (1,0,0), each Drude has an extra relative
// velocity, plus a non-polarizable atom that must not contribute
func dimers() []particle {
	return []particle{
		{tag: 1, typ: 1, x: [3]float64{5.5, 6, 6}, v: [3]float64{1, 0, 0}, bonds: []int64{2}},
		{tag: 2, typ: 2, x: [3]float64{5.6, 6, 6}, v: [3]float64{1, 2, 0}},
		{tag: 3, typ: 1, x: [3]float64{6.5, 6, 6}, v: [3]float64{1, 0, 0}, bonds: []int64{4}},
		{tag: 4, typ: 2, x: [3]float64{6.6, 6, 6}, v: [3]float64{1, 0, -1}},
		{tag: 5, typ: 3, x: [3]float64{2, 2, 2}, v: [3]float64{7, 7, 7}},
	}
}

const drudeMass = 0.4

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func setup(t *testing.T, nranks int) ([]comm.Comm, []*TempDrude, []*partitions.Domain) {
	box := atom.NewPeriodicBox(12, 12, 12)
	layout, err := (&partitions.LayoutBuilder{Box: box, NumPartitions: nranks}).BuildLayout(nil)
	require.NoError(t, err)
	roles, err := drude.ParseRoleTable(3, []string{"C", "D", "N"})
	require.NoError(t, err)

	comms := comm.NewChanWorld(nranks, nil)
	temps := make([]*TempDrude, nranks)
	domains := make([]*partitions.Domain, nranks)
	builders := make([]*drude.Builder, nranks)
	for r := range temps {
		st := atom.NewStore(3, box)
		st.Mass[1], st.Mass[2], st.Mass[3] = 12, drudeMass, 1
		builders[r], err = drude.NewBuilder(comms[r], st, roles, nil)
		require.NoError(t, err)
		domains[r], err = partitions.NewDomain(comms[r], layout, st, 1.5, nil)
		require.NoError(t, err)
		temps[r] = NewTempDrude(comms[r], st, roles, builders[r].Partners, nil)
	}
	for _, p := range dimers() {
		st := builders[layout.GetPartition(p.x[0])].Store
		i, err := st.AddAtom(p.tag, p.typ, p.x, 0)
		require.NoError(t, err)
		st.V[i] = p.v
		st.Bonds[i] = p.bonds
	}

	err = comm.Run(testContext(t), comms, func(ctx context.Context, c comm.Comm) error {
		if err := builders[c.Rank()].BuildPartners(ctx); err != nil {
			return err
		}
		if err := domains[c.Rank()].Borders(ctx); err != nil {
			return err
		}
		return temps[c.Rank()].Setup(ctx)
	})
	require.NoError(t, err)
	return comms, temps, domains
}

func TestTempDrude(t *testing.T) {
	// relative speeds squared: 4 and 1
	wantKE := drudeMass * (4 + 1)
	for _, nranks := range []int{1, 2} {
		comms, temps, _ := setup(t, nranks)
		scalars := make([]float64, nranks)
		vectors := make([][6]float64, nranks)
		err := comm.Run(testContext(t), comms, func(ctx context.Context, c comm.Comm) error {
			tc := temps[c.Rank()]
			s, err := tc.ComputeScalar(ctx)
			if err != nil {
				return err
			}
			scalars[c.Rank()] = s
			vectors[c.Rank()], err = tc.ComputeVector(ctx)
			return err
		})
		require.NoError(t, err)

		for r := 0; r < nranks; r++ {
			assert.Equal(t, 6.0, temps[r].DOF(), "two Drudes in 3d")
			assert.InDelta(t, wantKE/6, scalars[r], 1e-12, "ranks %d", nranks)
			assert.InDelta(t, drudeMass*4, vectors[r][1], 1e-12)
			assert.InDelta(t, drudeMass*1, vectors[r][2], 1e-12)
			for _, k := range []int{0, 3, 4, 5} {
				assert.Zero(t, vectors[r][k])
			}
		}
	}
}

func TestTempDrude_KineticTensorAndDof(t *testing.T) {
	_, temps, _ := setup(t, 1)
	tc := temps[0]
	tc.ExtraDof = 3
	tc.MVV2E = 2
	ctx := testContext(t)
	require.NoError(t, tc.Setup(ctx))
	assert.Equal(t, 3.0, tc.DOF())

	s, err := tc.ComputeScalar(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2*drudeMass*5/3, s, 1e-12)

	m, err := tc.KineticTensor(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2*drudeMass*4, m.At(1, 1), 1e-12)
	assert.Equal(t, m.At(0, 1), m.At(1, 0))

	tc.ExtraDof = 10
	require.NoError(t, tc.Setup(ctx))
	s, err = tc.ComputeScalar(ctx)
	require.NoError(t, err)
	assert.Zero(t, s, "no degrees of freedom left")
}

func TestTempDrude_Bias(t *testing.T) {
	_, temps, _ := setup(t, 1)
	tc := temps[0]
	_, err := tc.ComputeScalar(testContext(t))
	require.NoError(t, err)

	st := tc.Store
	before := append([][3]float64(nil), st.V[:st.NLocal]...)
	tc.RemoveBiasAll()
	d := st.Map(2)
	assert.Equal(t, [3]float64{0, 2, 0}, st.V[d])
	assert.Equal(t, before[st.Map(5)], st.V[st.Map(5)], "non-members untouched")
	tc.RestoreBiasAll()
	assert.Equal(t, before, st.V[:st.NLocal])

	v := [3]float64{3, 3, 3}
	tc.RemoveBias(d, &v)
	assert.Equal(t, [3]float64{2, 3, 3}, v)
	tc.RestoreBias(d, &v)
	assert.Equal(t, [3]float64{3, 3, 3}, v)
}

func TestTempDrude_MissingPartner(t *testing.T) {
	_, temps, _ := setup(t, 1)
	tc := temps[0]
	tc.Partners.Set(tc.Store.Map(2), 0)
	_, err := tc.ComputeScalar(testContext(t))
	assert.Error(t, err)
}
