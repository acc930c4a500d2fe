package atom

import (
	"errors"
	"fmt"
	"sort"
)

// Special holds an atom's special neighbors by bond distance: [0] 1-2,
// [1] 1-3, [2] 1-4
type Special [3][]int64

// Clone returns a deep copy
func (s Special) Clone() Special {
	var out Special
	for l := range s {
		out[l] = append([]int64(nil), s[l]...)
	}
	return out
}

// Level returns 1, 2 or 3 when tag is a 1-2, 1-3 or 1-4 neighbor, else 0
func (s Special) Level(tag int64) int {
	for l := range s {
		for _, t := range s[l] {
			if t == tag {
				return l + 1
			}
		}
	}
	return 0
}

// ErrGhostsPresent is returned by operations that need ghost slots cleared
var ErrGhostsPresent = errors.New("atom: operation requires ghosts to be cleared")

// Store is the host's per-process particle storage. Slots [0,NLocal) hold
// owned atoms, [NLocal,NLocal+NGhost) hold ghost images. Tags are global,
// positive and unique among owned atoms.
type Store struct {
	NTypes int
	Mass   []float64 // per type, index 1..NTypes
	Box    Box

	Tag     []int64
	Type    []int
	X, V, F [][3]float64
	Q       []float64

	// Bonds lists the bond partners recorded on this atom. A bond is
	// recorded on one endpoint only when the topology was read with
	// newton bonding, on both otherwise.
	Bonds   [][]int64
	Special []Special

	NLocal, NGhost int

	callbacks []Callback

	tagMap   map[int64]int
	sameTag  []int
	mapDirty bool
}

// NewStore allocates an empty store for ntypes atom types
func NewStore(ntypes int, box Box) *Store {
	if ntypes < 1 {
		panic(fmt.Sprintf("atom: need at least one type, got %d", ntypes))
	}
	return &Store{
		NTypes:   ntypes,
		Mass:     make([]float64, ntypes+1),
		Box:      box,
		tagMap:   make(map[int64]int),
		mapDirty: true,
	}
}

// AddCallback registers a per-atom array and grows it to current capacity
func (st *Store) AddCallback(cb Callback) {
	st.callbacks = append(st.callbacks, cb)
	cb.Grow(st.NMax())
}

// NMax returns the slot capacity
func (st *Store) NMax() int {
	return len(st.Tag)
}

// NAll returns the count of owned plus ghost slots
func (st *Store) NAll() int {
	return st.NLocal + st.NGhost
}

// Grow ensures capacity for at least n slots
func (st *Store) Grow(n int) {
	nmax := st.NMax()
	if n <= nmax {
		return
	}
	nmax *= 2
	if nmax < n {
		nmax = n
	}
	if nmax < 16 {
		nmax = 16
	}

	extend := func(k int) int { return nmax - k }
	st.Tag = append(st.Tag, make([]int64, extend(len(st.Tag)))...)
	st.Type = append(st.Type, make([]int, extend(len(st.Type)))...)
	st.X = append(st.X, make([][3]float64, extend(len(st.X)))...)
	st.V = append(st.V, make([][3]float64, extend(len(st.V)))...)
	st.F = append(st.F, make([][3]float64, extend(len(st.F)))...)
	st.Q = append(st.Q, make([]float64, extend(len(st.Q)))...)
	st.Bonds = append(st.Bonds, make([][]int64, extend(len(st.Bonds)))...)
	st.Special = append(st.Special, make([]Special, extend(len(st.Special)))...)

	for _, cb := range st.callbacks {
		cb.Grow(nmax)
	}
}

// AddAtom appends an owned atom and returns its slot
func (st *Store) AddAtom(tag int64, typ int, x [3]float64, q float64) (int, error) {
	if st.NGhost > 0 {
		return -1, ErrGhostsPresent
	}
	if tag <= 0 {
		return -1, fmt.Errorf("atom: tag must be positive, got %d", tag)
	}
	if typ < 1 || typ > st.NTypes {
		return -1, fmt.Errorf("atom: type %d out of range [1,%d]", typ, st.NTypes)
	}
	i := st.NLocal
	st.Grow(i + 1)
	st.Tag[i] = tag
	st.Type[i] = typ
	st.X[i] = x
	st.V[i] = [3]float64{}
	st.F[i] = [3]float64{}
	st.Q[i] = q
	st.Bonds[i] = nil
	st.Special[i] = Special{}
	st.NLocal++
	st.mapDirty = true
	return i, nil
}

// AddBond records a bond on local slot i
func (st *Store) AddBond(i int, partner int64) {
	st.Bonds[i] = append(st.Bonds[i], partner)
}

// copyAtom moves slot src into dst and fans the event out
func (st *Store) copyAtom(dst, src int, del bool) {
	st.Tag[dst] = st.Tag[src]
	st.Type[dst] = st.Type[src]
	st.X[dst] = st.X[src]
	st.V[dst] = st.V[src]
	st.F[dst] = st.F[src]
	st.Q[dst] = st.Q[src]
	st.Bonds[dst] = st.Bonds[src]
	st.Special[dst] = st.Special[src]
	if del {
		st.Bonds[src] = nil
		st.Special[src] = Special{}
	}
	for _, cb := range st.callbacks {
		cb.Copy(dst, src, del)
	}
}

// DeleteLocal removes owned slot i by moving the last owned atom into it
func (st *Store) DeleteLocal(i int) error {
	if st.NGhost > 0 {
		return ErrGhostsPresent
	}
	if i < 0 || i >= st.NLocal {
		return fmt.Errorf("atom: delete of slot %d outside [0,%d)", i, st.NLocal)
	}
	last := st.NLocal - 1
	if i != last {
		st.copyAtom(i, last, true)
	}
	st.NLocal--
	st.mapDirty = true
	return nil
}

// ClearGhosts drops all ghost slots
func (st *Store) ClearGhosts() {
	st.NGhost = 0
	st.mapDirty = true
}

// ZeroForces clears forces on owned and ghost slots
func (st *Store) ZeroForces() {
	for i := 0; i < st.NAll(); i++ {
		st.F[i] = [3]float64{}
	}
}

// Sort reorders owned atoms by less, cycling through a scratch slot at
// NLocal so that every move is a Copy visible to the callbacks
func (st *Store) Sort(less func(a, b int) bool) error {
	if st.NGhost > 0 {
		return ErrGhostsPresent
	}
	n := st.NLocal
	permute := make([]int, n) // new slot k receives old slot permute[k]
	for i := range permute {
		permute[i] = i
	}
	sort.SliceStable(permute, func(a, b int) bool { return less(permute[a], permute[b]) })

	st.Grow(n + 1)
	scratch := n
	current := make([]int, n)
	for i := range current {
		current[i] = i
	}
	for i := 0; i < n; i++ {
		if current[i] == permute[i] {
			continue
		}
		st.copyAtom(scratch, i, false)
		empty := i
		for permute[empty] != i {
			st.copyAtom(empty, permute[empty], false)
			current[empty] = permute[empty]
			empty = permute[empty]
		}
		st.copyAtom(empty, scratch, false)
		current[empty] = permute[empty]
	}
	st.mapDirty = true
	return nil
}

// RebuildMap refreshes the tag lookup. The lowest slot with a tag wins, so
// an owned atom shadows its ghost images.
func (st *Store) RebuildMap() {
	nall := st.NAll()
	if st.tagMap == nil {
		st.tagMap = make(map[int64]int, nall)
	} else {
		clear(st.tagMap)
	}
	if cap(st.sameTag) < nall {
		st.sameTag = make([]int, nall)
	}
	st.sameTag = st.sameTag[:nall]
	for i := nall - 1; i >= 0; i-- {
		if prev, ok := st.tagMap[st.Tag[i]]; ok {
			st.sameTag[i] = prev
		} else {
			st.sameTag[i] = -1
		}
		st.tagMap[st.Tag[i]] = i
	}
	st.mapDirty = false
}

// Map returns the lowest slot holding tag, or -1
func (st *Store) Map(tag int64) int {
	if st.mapDirty {
		st.RebuildMap()
	}
	if i, ok := st.tagMap[tag]; ok {
		return i
	}
	return -1
}

// ClosestImage returns the slot among all images of j's tag that is nearest
// to slot i. A negative j is passed through.
func (st *Store) ClosestImage(i, j int) int {
	if j < 0 {
		return j
	}
	if st.mapDirty {
		st.RebuildMap()
	}
	closest, best := j, Dist2(st.X[i], st.X[j])
	for k := st.sameTag[j]; k >= 0; k = st.sameTag[k] {
		if d := Dist2(st.X[i], st.X[k]); d < best {
			closest, best = k, d
		}
	}
	return closest
}

// LocalTags returns the tags of owned atoms in slot order
func (st *Store) LocalTags() []int64 {
	out := make([]int64, st.NLocal)
	copy(out, st.Tag[:st.NLocal])
	return out
}
