package drude

import (
	"github.com/notargets/DrudeKernel/atom"
)

// PartnerMap holds, per owned and ghost slot, the tag of the atom's core or
// Drude partner, or 0. It registers itself with the Store and follows every
// slot mutation, so it is keyed by slot and never needs a rebuild when
// atoms move.
type PartnerMap struct {
	partner []int64
}

// NewPartnerMap creates a map sized to st and registers it for st's
// lifecycle events
func NewPartnerMap(st *atom.Store) *PartnerMap {
	pm := &PartnerMap{}
	st.AddCallback(pm)
	return pm
}

// Partner returns the partner tag of slot i
func (pm *PartnerMap) Partner(i int) int64 {
	return pm.partner[i]
}

// Set records the partner tag of slot i
func (pm *PartnerMap) Set(i int, tag int64) {
	pm.partner[i] = tag
}

// Len returns the slot capacity
func (pm *PartnerMap) Len() int {
	return len(pm.partner)
}

// Reset clears the first n slots
func (pm *PartnerMap) Reset(n int) {
	clear(pm.partner[:n])
}

// Grow extends the map to nmax slots. New slots hold 0 until an exchange or
// border unpack fills them.
func (pm *PartnerMap) Grow(nmax int) {
	if nmax <= len(pm.partner) {
		return
	}
	pm.partner = append(pm.partner, make([]int64, nmax-len(pm.partner))...)
}

// Copy moves slot src into dst. On a deletion the source slot is retired.
func (pm *PartnerMap) Copy(dst, src int, del bool) {
	pm.partner[dst] = pm.partner[src]
	if del {
		pm.partner[src] = 0
	}
}

// PackExchange appends the partner tag of slot i
func (pm *PartnerMap) PackExchange(i int, buf []float64) []float64 {
	return append(buf, atom.UBuf(pm.partner[i]))
}

// UnpackExchange fills slot from one value
func (pm *PartnerMap) UnpackExchange(slot int, buf []float64) int {
	pm.partner[slot] = atom.FromUBuf(buf[0])
	return 1
}

// PackBorder appends the partner tags of list
func (pm *PartnerMap) PackBorder(list []int, buf []float64) []float64 {
	for _, i := range list {
		buf = append(buf, atom.UBuf(pm.partner[i]))
	}
	return buf
}

// UnpackBorder fills ghosts [first, first+n)
func (pm *PartnerMap) UnpackBorder(n, first int, buf []float64) int {
	for k := 0; k < n; k++ {
		pm.partner[first+k] = atom.FromUBuf(buf[k])
	}
	return n
}
