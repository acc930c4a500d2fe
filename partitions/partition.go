package partitions

import (
	"fmt"
	"math"

	"github.com/notargets/DrudeKernel/atom"
)

// Partition is one slab of the box along x, owned by the rank with the same
// ID
type Partition struct {
	ID int

	// Slab extent [Lo, Hi) along x
	Lo, Hi float64

	// Owned atom count when the layout was built
	NumAtoms int
}

// Thickness returns the slab width
func (p Partition) Thickness() float64 {
	return p.Hi - p.Lo
}

// Layout manages the complete spatial decomposition
type Layout struct {
	Box atom.Box

	// All partitions, ordered by increasing x
	Partitions []Partition

	NumPartitions int
	TotalAtoms    int
}

// GetPartition returns the partition owning coordinate x, or -1 when x lies
// outside a non-periodic box. Periodic coordinates are wrapped first.
func (pl *Layout) GetPartition(x float64) int {
	lo, hi := pl.Box.Lo[0], pl.Box.Hi[0]
	if pl.Box.Periodic[0] {
		l := hi - lo
		x = lo + math.Mod(x-lo, l)
		if x < lo {
			x += l
		}
		if x >= hi {
			x = lo
		}
	} else if x < lo || x >= hi {
		return -1
	}

	// slabs are few, a linear scan keeps ties on the lower boundary exact
	for _, p := range pl.Partitions {
		if x >= p.Lo && x < p.Hi {
			return p.ID
		}
	}
	return pl.NumPartitions - 1
}

// ValidateLayout checks partition consistency
func (pl *Layout) ValidateLayout() error {
	if pl.NumPartitions != len(pl.Partitions) || pl.NumPartitions < 1 {
		return fmt.Errorf("layout has %d partitions, NumPartitions %d",
			len(pl.Partitions), pl.NumPartitions)
	}
	if pl.Partitions[0].Lo != pl.Box.Lo[0] {
		return fmt.Errorf("partition 0 starts at %g, box at %g", pl.Partitions[0].Lo, pl.Box.Lo[0])
	}
	last := pl.Partitions[pl.NumPartitions-1]
	if last.Hi != pl.Box.Hi[0] {
		return fmt.Errorf("partition %d ends at %g, box at %g", last.ID, last.Hi, pl.Box.Hi[0])
	}
	total := 0
	for i, p := range pl.Partitions {
		if p.ID != i {
			return fmt.Errorf("partition at position %d has ID %d", i, p.ID)
		}
		if !(p.Hi > p.Lo) {
			return fmt.Errorf("partition %d: empty slab [%g,%g)", p.ID, p.Lo, p.Hi)
		}
		if i > 0 && pl.Partitions[i-1].Hi != p.Lo {
			return fmt.Errorf("partition %d: gap or overlap at %g != %g",
				p.ID, pl.Partitions[i-1].Hi, p.Lo)
		}
		total += p.NumAtoms
	}
	if total != pl.TotalAtoms {
		return fmt.Errorf("partition atom counts sum to %d, TotalAtoms %d", total, pl.TotalAtoms)
	}
	return nil
}

// ValidateCutoff checks every slab, and the box along y and z, is at least
// one ghost cutoff wide, so a single swap per direction finds every image
func (pl *Layout) ValidateCutoff(cut float64) error {
	for _, p := range pl.Partitions {
		if p.Thickness() < cut {
			return fmt.Errorf("%w: partition %d is %g thick, cutoff %g",
				ErrSlabTooThin, p.ID, p.Thickness(), cut)
		}
	}
	for d := 1; d < 3; d++ {
		if pl.Box.Length(d) < cut {
			return fmt.Errorf("%w: box dimension %d is %g long, cutoff %g",
				ErrSlabTooThin, d, pl.Box.Length(d), cut)
		}
	}
	return nil
}

// PartitionStatistics computes load balance metrics
func (pl *Layout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinAtoms:      math.MaxInt32,
		MaxAtoms:      0,
		AvgAtoms:      float64(pl.TotalAtoms) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumAtoms < stats.MinAtoms {
			stats.MinAtoms = p.NumAtoms
		}
		if p.NumAtoms > stats.MaxAtoms {
			stats.MaxAtoms = p.NumAtoms
		}
	}

	if stats.AvgAtoms > 0 {
		stats.Imbalance = float64(stats.MaxAtoms) / stats.AvgAtoms
	}

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinAtoms      int
	MaxAtoms      int
	AvgAtoms      float64
	Imbalance     float64 // MaxAtoms / AvgAtoms
}
