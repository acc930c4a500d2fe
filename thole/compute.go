package thole

import (
	"fmt"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/drude"
	"github.com/notargets/DrudeKernel/neighbor"
)

// System bundles the per-rank state the pair style reads
type System struct {
	Store    *atom.Store
	Roles    *drude.RoleTable
	Partners *drude.PartnerMap
}

func (s System) role(i int) drude.Role {
	return s.Roles.Of(s.Store.Type[i])
}

// charges resolves effective charges on demand: a core carries its own
// charge, a Drude the negated charge of the nearest image of its core
type charges struct {
	sys  System
	q    []float64
	done []bool
}

func newCharges(sys System) *charges {
	n := sys.Store.NAll()
	return &charges{sys: sys, q: make([]float64, n), done: make([]bool, n)}
}

func (c *charges) of(i int) (float64, error) {
	if c.done[i] {
		return c.q[i], nil
	}
	q, err := EffectiveCharge(c.sys, i)
	if err != nil {
		return 0, err
	}
	c.q[i], c.done[i] = q, true
	return q, nil
}

// EffectiveCharge returns the charge slot i carries in the damped
// interaction. Non-polarizable particles carry none.
func EffectiveCharge(sys System, i int) (float64, error) {
	st := sys.Store
	switch sys.role(i) {
	case drude.Core:
		return st.Q[i], nil
	case drude.Drude:
		tag := sys.Partners.Partner(i)
		core := st.ClosestImage(i, st.Map(tag))
		if tag == 0 || core < 0 {
			return 0, fmt.Errorf("%w: core %d of Drude %d", ErrMissingPartner, tag, st.Tag[i])
		}
		return -st.Q[core], nil
	}
	return 0, nil
}

// batch holds the interactions inside the cutoff, evaluated together on the
// host or on the device
type batch struct {
	i, j  []int
	del   [][3]float64
	rsq   []float64
	a     []float64
	c     []float64
	fc    []float64
	fpair []float64
	ecoul []float64
}

func (b *batch) add(i, j int, del [3]float64, rsq, a, c, fc float64) {
	b.i = append(b.i, i)
	b.j = append(b.j, j)
	b.del = append(b.del, del)
	b.rsq = append(b.rsq, rsq)
	b.a = append(b.a, a)
	b.c = append(b.c, c)
	b.fc = append(b.fc, fc)
}

func (b *batch) evaluateHost() {
	n := len(b.rsq)
	b.fpair = make([]float64, n)
	b.ecoul = make([]float64, n)
	for k := 0; k < n; k++ {
		b.fpair[k], b.ecoul[k] = pairTerm(b.rsq[k], b.a[k], b.c[k], b.fc[k])
	}
}

// Compute accumulates Thole forces into Store.F for every polarizable pair of
// the half list, skipping each particle's own partner. With list.Newton off,
// forces on ghosts are not applied and energy and virial are halved per
// local endpoint.
func (p *Pair) Compute(sys System, list *neighbor.List, eflag, vflag bool) (Tally, error) {
	var tally Tally
	if !p.initialized {
		return tally, fmt.Errorf("thole: compute before init")
	}
	st := sys.Store
	q := newCharges(sys)

	var b batch
	for i := 0; i < st.NLocal && i < len(list.Neigh); i++ {
		if !sys.role(i).Polarizable() {
			continue
		}
		qi, err := q.of(i)
		if err != nil {
			return tally, err
		}
		own := sys.Partners.Partner(i)
		ti := st.Type[i]
		for _, n := range list.Neigh[i] {
			j := n.Index
			if !sys.role(j).Polarizable() || st.Tag[j] == own {
				continue
			}
			tj := st.Type[j]
			del := [3]float64{st.X[i][0] - st.X[j][0], st.X[i][1] - st.X[j][1], st.X[i][2] - st.X[j][2]}
			rsq := del[0]*del[0] + del[1]*del[1] + del[2]*del[2]
			if rsq >= p.cutsq[ti][tj] {
				continue
			}
			qj, err := q.of(j)
			if err != nil {
				return tally, err
			}
			b.add(i, j, del, rsq,
				Screening(p.thole[ti][tj], p.polar[ti][tj]),
				p.QQRD2E*p.scale[ti][tj]*qi*qj,
				p.SpecialCoul[n.Special])
		}
	}

	if p.Device != nil {
		if err := p.Device.Evaluate(&b); err != nil {
			return tally, fmt.Errorf("thole: device evaluation: %w", err)
		}
	} else {
		b.evaluateHost()
	}

	for k := range b.i {
		i, j, del, fpair := b.i[k], b.j[k], b.del[k], b.fpair[k]
		for d := 0; d < 3; d++ {
			st.F[i][d] += del[d] * fpair
		}
		if list.Newton || j < st.NLocal {
			for d := 0; d < 3; d++ {
				st.F[j][d] -= del[d] * fpair
			}
		}
		if eflag || vflag {
			tally.add(i, j, st.NLocal, list.Newton, eflag, vflag, b.ecoul[k], fpair, del)
		}
	}
	return tally, nil
}

// Single returns the energy and the force magnitude over r of one pair,
// zero unless both are polarizable and not partners of each other
func (p *Pair) Single(sys System, i, j int, rsq, factorCoul float64) (eng, fforce float64, err error) {
	if !p.initialized {
		return 0, 0, fmt.Errorf("thole: single before init")
	}
	st := sys.Store
	if i == j || !sys.role(i).Polarizable() || !sys.role(j).Polarizable() ||
		st.Tag[j] == sys.Partners.Partner(i) {
		return 0, 0, nil
	}
	ti, tj := st.Type[i], st.Type[j]
	if rsq >= p.cutsq[ti][tj] {
		return 0, 0, nil
	}
	qi, err := EffectiveCharge(sys, i)
	if err != nil {
		return 0, 0, err
	}
	qj, err := EffectiveCharge(sys, j)
	if err != nil {
		return 0, 0, err
	}
	fforce, eng = pairTerm(rsq,
		Screening(p.thole[ti][tj], p.polar[ti][tj]),
		p.QQRD2E*p.scale[ti][tj]*qi*qj,
		factorCoul)
	return eng, fforce, nil
}
