// Package neighbor builds half neighbor lists over a Store's owned and ghost
// slots.
package neighbor

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/notargets/DrudeKernel/atom"
)

// Neighbor is one entry of a local atom's list
type Neighbor struct {
	Index int // slot of j, owned or ghost

	// Special is 0 for an ordinary pair, or 1, 2, 3 when j is a 1-2, 1-3
	// or 1-4 special neighbor of i
	Special int
}

// List is a half neighbor list keyed by owned slot
type List struct {
	Cutoff float64
	Newton bool

	// Neigh[i] lists the neighbors of owned slot i
	Neigh [][]Neighbor
}

// Pairs returns the total number of list entries
func (l *List) Pairs() int {
	n := 0
	for _, nb := range l.Neigh {
		n += len(nb)
	}
	return n
}

// Build indexes every owned and ghost slot in a k-d tree and returns the
// half list of pairs closer than cutoff, each entry list in slot order.
//
// Owned pairs are stored once. With newton off every owned-ghost pair is
// kept, so a pair split across ranks is stored on both. With newton on an
// owned-ghost pair is kept only when the ghost lies above i in z, then y,
// then x, which keeps exactly one of the two copies. Pairs between images
// of the same tag are skipped.
func Build(st *atom.Store, cutoff float64, newton bool) (*List, error) {
	if !(cutoff > 0) {
		return nil, fmt.Errorf("neighbor cutoff must be positive, got %g", cutoff)
	}
	nall := st.NAll()
	l := &List{Cutoff: cutoff, Newton: newton, Neigh: make([][]Neighbor, st.NLocal)}
	if nall == 0 {
		return l, nil
	}

	pts := make(sites, nall)
	for j := range pts {
		pts[j] = site{slot: j, x: st.X[j]}
	}
	tree := kdtree.New(pts, false)
	cutsq := cutoff * cutoff
	var found []int
	for i := 0; i < st.NLocal; i++ {
		keeper := kdtree.NewDistKeeper(cutsq)
		tree.NearestSet(keeper, site{slot: i, x: st.X[i]})
		found = found[:0]
		for _, c := range keeper.Heap {
			if c.Comparable == nil || c.Dist >= cutsq {
				continue
			}
			if j := c.Comparable.(site).slot; keep(st, i, j, newton) {
				found = append(found, j)
			}
		}
		slices.Sort(found)
		for _, j := range found {
			l.Neigh[i] = append(l.Neigh[i], Neighbor{
				Index:   j,
				Special: st.Special[i].Level(st.Tag[j]),
			})
		}
	}
	return l, nil
}

// keep applies the half-list ownership rule to candidate pair (i, j)
func keep(st *atom.Store, i, j int, newton bool) bool {
	if st.Tag[i] == st.Tag[j] {
		return false
	}
	if j < st.NLocal {
		return j > i
	}
	if !newton {
		return true
	}
	xi, xj := st.X[i], st.X[j]
	switch {
	case xj[2] != xi[2]:
		return xj[2] > xi[2]
	case xj[1] != xi[1]:
		return xj[1] > xi[1]
	default:
		return xj[0] > xi[0]
	}
}

// site is a slot position stored in the k-d tree
type site struct {
	slot int
	x    [3]float64
}

func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return s.x[d] - c.(site).x[d]
}

func (s site) Dims() int { return 3 }

func (s site) Distance(c kdtree.Comparable) float64 {
	return atom.Dist2(s.x, c.(site).x)
}

type sites []site

func (p sites) Index(i int) kdtree.Comparable         { return p[i] }
func (p sites) Len() int                              { return len(p) }
func (p sites) Pivot(d kdtree.Dim) int                { return plane{sites: p, Dim: d}.Pivot() }
func (p sites) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane orders sites along one dimension for median selection
type plane struct {
	kdtree.Dim
	sites
}

func (p plane) Less(i, j int) bool { return p.sites[i].x[p.Dim] < p.sites[j].x[p.Dim] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Swap(i, j int)      { p.sites[i], p.sites[j] = p.sites[j], p.sites[i] }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.sites = p.sites[start:end]
	return p
}
