package partitions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/comm"
)

// Domain moves atoms between slabs and builds ghost images for one rank
type Domain struct {
	Comm   comm.Comm
	Layout *Layout
	Store  *atom.Store
	Cutoff float64 // ghost cutoff, force cutoff plus neighbor skin
	Logger *zap.Logger

	swaps []Swap
}

// NewDomain binds a store to slab Comm.Rank() of layout
func NewDomain(c comm.Comm, layout *Layout, st *atom.Store, cutoff float64, logger *zap.Logger) (*Domain, error) {
	if layout.NumPartitions != c.Size() {
		return nil, fmt.Errorf("layout has %d partitions for %d ranks", layout.NumPartitions, c.Size())
	}
	if err := layout.ValidateCutoff(cutoff); err != nil {
		return nil, err
	}
	plans, err := BuildSwapPlans(layout)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Domain{
		Comm:   c,
		Layout: layout,
		Store:  st,
		Cutoff: cutoff,
		Logger: logger.With(zap.Int("rank", c.Rank())),
		swaps:  plans[c.Rank()],
	}, nil
}

// Slab returns the partition owned by this rank
func (dm *Domain) Slab() Partition {
	return dm.Layout.Partitions[dm.Comm.Rank()]
}

// Owns reports whether position x falls in this rank's slab
func (dm *Domain) Owns(x [3]float64) bool {
	return dm.Layout.GetPartition(x[0]) == dm.Comm.Rank()
}

// Swaps returns the border plan built by the last Borders call
func (dm *Domain) Swaps() []Swap {
	return dm.swaps
}

// Exchange clears ghosts, wraps owned positions into the box and migrates
// atoms that left this slab to the adjacent rank that now owns them
func (dm *Domain) Exchange(ctx context.Context) error {
	st := dm.Store
	st.ClearGhosts()

	size, me := dm.Comm.Size(), dm.Comm.Rank()
	left, right := (me-1+size)%size, (me+1)%size

	var sendLeft, sendRight []float64
	var lost error
	nsent := 0
	for i := 0; i < st.NLocal; {
		st.X[i] = st.Box.Wrap(st.X[i])
		dest := dm.Layout.GetPartition(st.X[i][0])
		switch {
		case dest == me:
			i++
			continue
		case dest >= 0 && dest == left:
			sendLeft = st.PackExchange(i, sendLeft)
		case dest >= 0 && dest == right:
			sendRight = st.PackExchange(i, sendRight)
		default:
			if lost == nil {
				lost = fmt.Errorf("%w: tag %d at x=%g, rank %d owns [%g,%g)",
					ErrLostAtom, st.Tag[i], st.X[i][0], me, dm.Slab().Lo, dm.Slab().Hi)
			}
			i++
			continue
		}
		if err := st.DeleteLocal(i); err != nil {
			return err
		}
		nsent++
	}
	if err := comm.AgreeOnError(ctx, dm.Comm, lost); err != nil {
		return err
	}
	if size == 1 {
		return nil
	}

	fromRight, err := dm.Comm.SendRecv(ctx, left, comm.EncodeFloats(sendLeft), right)
	if err != nil {
		return err
	}
	fromLeft, err := dm.Comm.SendRecv(ctx, right, comm.EncodeFloats(sendRight), left)
	if err != nil {
		return err
	}

	nrecv := 0
	for _, raw := range [][]byte{fromRight, fromLeft} {
		buf := comm.DecodeFloats(raw)
		for m := 0; m < len(buf); {
			n, err := st.UnpackExchange(buf[m:])
			if err != nil {
				return fmt.Errorf("exchange on rank %d: %w", me, err)
			}
			m += n
			nrecv++
			if i := st.NLocal - 1; !dm.Owns(st.X[i]) {
				return fmt.Errorf("%w: tag %d at x=%g arrived at rank %d",
					ErrLostAtom, st.Tag[i], st.X[i][0], me)
			}
		}
	}

	dm.Logger.Debug("exchange", zap.Int("sent", nsent), zap.Int("received", nrecv),
		zap.Int("nlocal", st.NLocal))
	return nil
}

// Borders rebuilds all ghost slots. Swaps run x, then y, then z, and later
// dimensions also mirror ghosts from earlier ones, so corner images exist.
func (dm *Domain) Borders(ctx context.Context) error {
	st := dm.Store
	st.ClearGhosts()
	me := dm.Comm.Rank()
	slab := dm.Slab()

	for k := 0; k < len(dm.swaps); {
		d := dm.swaps[k].Dim
		nlast := st.NAll()
		lo, hi := st.Box.Lo[d], st.Box.Hi[d]
		if d == 0 {
			lo, hi = slab.Lo, slab.Hi
		}
		for ; k < len(dm.swaps) && dm.swaps[k].Dim == d; k++ {
			s := &dm.swaps[k]
			s.SendList = s.SendList[:0]
			if !s.Open {
				for i := 0; i < nlast; i++ {
					x := st.X[i][d]
					if (s.Side < 0 && x < lo+dm.Cutoff) || (s.Side > 0 && x >= hi-dm.Cutoff) {
						s.SendList = append(s.SendList, i)
					}
				}
			}

			out := st.PackBorder(s.SendList, s.Shift, []float64{float64(len(s.SendList))})
			in := out
			if !s.Self(me) {
				raw, err := dm.Comm.SendRecv(ctx, s.SendTo, comm.EncodeFloats(out), s.RecvFrom)
				if err != nil {
					return err
				}
				in = comm.DecodeFloats(raw)
			}
			if len(in) == 0 {
				return fmt.Errorf("borders: empty message in swap %d on rank %d", k, me)
			}
			s.FirstRecv = st.NAll()
			s.NRecv = int(in[0])
			if _, err := st.UnpackBorder(s.NRecv, in[1:]); err != nil {
				return fmt.Errorf("borders swap %d on rank %d: %w", k, me, err)
			}
		}
	}

	dm.Logger.Debug("borders", zap.Int("nlocal", st.NLocal), zap.Int("nghost", st.NGhost))
	return nil
}

// ForwardComm refreshes ghost positions and velocities from their owners
func (dm *Domain) ForwardComm(ctx context.Context) error {
	st := dm.Store
	me := dm.Comm.Rank()
	for k := range dm.swaps {
		s := &dm.swaps[k]
		out := st.PackForward(s.SendList, s.Shift, nil)
		in := out
		if !s.Self(me) {
			raw, err := dm.Comm.SendRecv(ctx, s.SendTo, comm.EncodeFloats(out), s.RecvFrom)
			if err != nil {
				return err
			}
			in = comm.DecodeFloats(raw)
		}
		if len(in) != 6*s.NRecv {
			return fmt.Errorf("forward swap %d on rank %d: got %d values for %d ghosts",
				k, me, len(in), s.NRecv)
		}
		st.UnpackForward(s.NRecv, s.FirstRecv, in)
	}
	return nil
}

// ReverseComm sums forces accumulated on ghosts back onto their owners, in
// the reverse order of the border swaps
func (dm *Domain) ReverseComm(ctx context.Context) error {
	st := dm.Store
	me := dm.Comm.Rank()
	for k := len(dm.swaps) - 1; k >= 0; k-- {
		s := &dm.swaps[k]
		out := st.PackReverse(s.NRecv, s.FirstRecv, nil)
		in := out
		if !s.Self(me) {
			raw, err := dm.Comm.SendRecv(ctx, s.RecvFrom, comm.EncodeFloats(out), s.SendTo)
			if err != nil {
				return err
			}
			in = comm.DecodeFloats(raw)
		}
		if len(in) != 3*len(s.SendList) {
			return fmt.Errorf("reverse swap %d on rank %d: got %d values for %d owners",
				k, me, len(in), len(s.SendList))
		}
		st.UnpackReverse(s.SendList, in)
	}
	return nil
}
