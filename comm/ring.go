package comm

import (
	"context"
)

// Visitor is applied to a buffer each time it arrives at a rank. origin is
// the rank that injected the buffer. The returned slice travels on.
type Visitor func(origin int, buf []byte) ([]byte, error)

type statsCarrier interface {
	stats() *Metrics
}

// Ring passes buf once around the logical ring rank -> rank+1 -> ... and
// back home, which takes exactly Size() hops. visit runs after every hop,
// so each rank (the origin included, last) sees every buffer once.
//
// A visitor error does not break the circuit: the unmodified buffer keeps
// moving so peers are not left blocked, and the first error is returned
// after the final hop.
func Ring(ctx context.Context, c Comm, buf []byte, visit Visitor) ([]byte, error) {
	var m *Metrics
	if sc, ok := c.(statsCarrier); ok {
		m = sc.stats()
	}

	size, me := c.Size(), c.Rank()
	next := (me + 1) % size
	prev := (me - 1 + size) % size

	var firstErr error
	for hop := 1; hop <= size; hop++ {
		in, err := c.SendRecv(ctx, next, buf, prev)
		if err != nil {
			return nil, err
		}
		m.hop(me)

		origin := (me - hop + size) % size
		out, verr := visit(origin, in)
		if verr != nil {
			if firstErr == nil {
				firstErr = verr
			}
			out = in
		}
		buf = out
	}
	return buf, firstErr
}
