package partitions

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notargets/DrudeKernel/atom"
)

var (
	// ErrLostAtom reports an atom that moved further than one slab in a
	// single step, or left a non-periodic box
	ErrLostAtom = errors.New("partitions: atom lost during exchange")

	// ErrSlabTooThin reports a slab narrower than the ghost cutoff
	ErrSlabTooThin = errors.New("partitions: slab thinner than ghost cutoff")
)

// LayoutBuilder constructs slab partitions along x
type LayoutBuilder struct {
	Box           atom.Box
	NumPartitions int
	Strategy      PartitionStrategy
}

// PartitionStrategy defines how slab boundaries are placed
type PartitionStrategy int

const (
	// UniformSlabs splits the box into equal widths
	UniformSlabs PartitionStrategy = iota

	// BalancedSlabs places boundaries at the quantiles of the atom x
	// coordinates
	BalancedSlabs
)

// BuildLayout creates a layout for atoms at coordinates xs along x
func (pb *LayoutBuilder) BuildLayout(xs []float64) (*Layout, error) {
	if pb.NumPartitions < 1 {
		return nil, fmt.Errorf("need at least one partition, got %d", pb.NumPartitions)
	}
	if err := pb.Box.Validate(); err != nil {
		return nil, err
	}

	bounds := pb.boundaries(xs)
	layout := &Layout{
		Box:           pb.Box,
		Partitions:    make([]Partition, pb.NumPartitions),
		NumPartitions: pb.NumPartitions,
	}
	for i := range layout.Partitions {
		layout.Partitions[i] = Partition{ID: i, Lo: bounds[i], Hi: bounds[i+1]}
	}
	for _, x := range xs {
		p := layout.GetPartition(x)
		if p < 0 {
			return nil, fmt.Errorf("%w: x=%g outside box", ErrLostAtom, x)
		}
		layout.Partitions[p].NumAtoms++
		layout.TotalAtoms++
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// boundaries returns NumPartitions+1 slab edges
func (pb *LayoutBuilder) boundaries(xs []float64) []float64 {
	n := pb.NumPartitions
	lo, hi := pb.Box.Lo[0], pb.Box.Hi[0]
	bounds := make([]float64, n+1)
	bounds[0], bounds[n] = lo, hi

	switch pb.Strategy {
	case BalancedSlabs:
		if len(xs) >= n {
			sorted := make([]float64, len(xs))
			for i, x := range xs {
				sorted[i] = pb.Box.Wrap([3]float64{x, pb.Box.Lo[1], pb.Box.Lo[2]})[0]
			}
			sort.Float64s(sorted)
			for k := 1; k < n; k++ {
				q := k * len(sorted) / n
				bounds[k] = 0.5 * (sorted[q-1] + sorted[q])
			}
			if sort.Float64sAreSorted(bounds) && distinct(bounds) {
				return bounds
			}
		}
		// degenerate distributions fall back to uniform slabs
		fallthrough

	default:
		width := (hi - lo) / float64(n)
		for k := 1; k < n; k++ {
			bounds[k] = lo + float64(k)*width
		}
	}
	return bounds
}

func distinct(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] == v[i-1] {
			return false
		}
	}
	return true
}

// Swap is one border communication step: owned (or earlier ghost) slots in
// SendList are mirrored, shifted by Shift, into ghost slots
// [FirstRecv, FirstRecv+NRecv) on the rank SendTo
type Swap struct {
	Dim      int
	Side     int // -1 low face, +1 high face
	SendTo   int
	RecvFrom int
	Shift    [3]float64

	// Open marks a non-periodic box face: nothing is sent across it
	Open bool

	SendList  []int
	FirstRecv int
	NRecv     int
}

// Self reports that the swap stays on this rank
func (s *Swap) Self(rank int) bool {
	return s.SendTo == rank
}

// BuildSwapPlans returns, per rank, the six border swaps (low then high
// face, for x, y, z). Send lists are filled by Domain.Borders.
func BuildSwapPlans(layout *Layout) ([][]Swap, error) {
	plans := make([][]Swap, layout.NumPartitions)
	for rank := range plans {
		plans[rank] = buildSwapPlan(layout, rank)
	}
	if err := validateCommunicationSymmetry(plans); err != nil {
		return nil, fmt.Errorf("asymmetric communication pattern: %w", err)
	}
	return plans, nil
}

func buildSwapPlan(layout *Layout, rank int) []Swap {
	n := layout.NumPartitions
	box := layout.Box
	left, right := (rank-1+n)%n, (rank+1)%n

	var swaps []Swap
	for d := 0; d < 3; d++ {
		for _, side := range []int{-1, +1} {
			s := Swap{Dim: d, Side: side, SendTo: rank, RecvFrom: rank}
			atEdge := true
			if d == 0 {
				if side < 0 {
					s.SendTo, s.RecvFrom = left, right
					atEdge = rank == 0
				} else {
					s.SendTo, s.RecvFrom = right, left
					atEdge = rank == n-1
				}
			}
			if atEdge {
				if box.Periodic[d] {
					s.Shift[d] = -float64(side) * box.Length(d)
				} else {
					s.Open = true
				}
			}
			swaps = append(swaps, s)
		}
	}
	return swaps
}

// validateCommunicationSymmetry verifies that if rank A's swap k sends to B,
// then B's swap k expects to receive from A
func validateCommunicationSymmetry(plans [][]Swap) error {
	for sender, plan := range plans {
		for k, s := range plan {
			if s.SendTo < 0 || s.SendTo >= len(plans) {
				return fmt.Errorf("rank %d swap %d sends to unknown rank %d", sender, k, s.SendTo)
			}
			peer := plans[s.SendTo]
			if k >= len(peer) {
				return fmt.Errorf("rank %d has no swap %d matching rank %d", s.SendTo, k, sender)
			}
			if peer[k].RecvFrom != sender {
				return fmt.Errorf("rank %d swap %d sends to %d, but %d expects to receive from %d",
					sender, k, s.SendTo, s.SendTo, peer[k].RecvFrom)
			}
		}
	}
	return nil
}
