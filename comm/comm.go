package comm

import (
	"context"
	"errors"
	"fmt"
	"golang.org/x/sync/errgroup"
)

// Op selects the reduction applied by AllReduce
type Op int

const (
	Sum Op = iota
	Max
	Min
)

var (
	// ErrRemoteFailure is returned on ranks that were healthy when another
	// rank reported a fatal error through AgreeOnError
	ErrRemoteFailure = errors.New("comm: failure reported by another rank")

	// ErrClosed is returned by operations on a closed communicator
	ErrClosed = errors.New("comm: communicator closed")
)

// Comm is the message passing surface one simulated process sees. All calls
// block until the matching calls on the peer ranks complete or ctx is done.
// Collective calls must be issued by every rank in the same order.
type Comm interface {
	Rank() int
	Size() int

	// SendRecv sends buf to rank `to` and returns the next message from rank
	// `from`. Self-sends are allowed.
	SendRecv(ctx context.Context, to int, buf []byte, from int) ([]byte, error)

	// Send and Recv are the split halves of SendRecv, used for
	// irregular neighbor patterns
	Send(ctx context.Context, to int, buf []byte) error
	Recv(ctx context.Context, from int) ([]byte, error)

	// Bcast returns root's buf on every rank
	Bcast(ctx context.Context, root int, buf []byte) ([]byte, error)

	// AllReduce combines vals elementwise across ranks
	AllReduce(ctx context.Context, vals []float64, op Op) ([]float64, error)

	Close() error
}

// Run executes fn once per communicator, each on its own goroutine, and
// returns the first error. The shared context is cancelled on the first
// failure so blocked peers unwind instead of hanging.
func Run(ctx context.Context, comms []Comm, fn func(ctx context.Context, c Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range comms {
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// AgreeOnError makes every rank return an error if any rank passed a
// non-nil err. The local error is returned unchanged where it exists.
func AgreeOnError(ctx context.Context, c Comm, err error) error {
	flag := 0.0
	if err != nil {
		flag = 1
	}
	out, rerr := c.AllReduce(ctx, []float64{flag}, Max)
	if rerr != nil {
		if err != nil {
			return err
		}
		return rerr
	}
	if err != nil {
		return err
	}
	if out[0] > 0 {
		return ErrRemoteFailure
	}
	return nil
}

// reduceInto folds src into dst with op
func reduceInto(dst, src []float64, op Op) error {
	if len(dst) != len(src) {
		return fmt.Errorf("comm: reduce length mismatch %d != %d", len(dst), len(src))
	}
	for i, v := range src {
		switch op {
		case Sum:
			dst[i] += v
		case Max:
			if v > dst[i] {
				dst[i] = v
			}
		case Min:
			if v < dst[i] {
				dst[i] = v
			}
		default:
			return fmt.Errorf("comm: unknown reduce op %d", op)
		}
	}
	return nil
}

// allReduceP2P implements AllReduce on top of point-to-point calls: gather
// at rank 0 in rank order, then broadcast the result.
func allReduceP2P(ctx context.Context, c Comm, vals []float64, op Op) ([]float64, error) {
	acc := make([]float64, len(vals))
	copy(acc, vals)

	if c.Rank() == 0 {
		for r := 1; r < c.Size(); r++ {
			buf, err := c.Recv(ctx, r)
			if err != nil {
				return nil, err
			}
			if err := reduceInto(acc, DecodeFloats(buf), op); err != nil {
				return nil, err
			}
		}
	} else if err := c.Send(ctx, 0, EncodeFloats(vals)); err != nil {
		return nil, err
	}

	out, err := c.Bcast(ctx, 0, EncodeFloats(acc))
	if err != nil {
		return nil, err
	}
	return DecodeFloats(out), nil
}

// bcastP2P broadcasts from root with direct sends
func bcastP2P(ctx context.Context, c Comm, root int, buf []byte) ([]byte, error) {
	if c.Rank() == root {
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := c.Send(ctx, r, buf); err != nil {
				return nil, err
			}
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
	return c.Recv(ctx, root)
}
