package comm

import (
	"context"
	"fmt"
	"sync"
)

// mailboxDepth bounds the number of in-flight messages per ordered rank pair
const mailboxDepth = 64

// chanWorld connects ranks of one OS process with buffered channels. Each
// ordered pair (from, to) has its own FIFO, which is all the matching the
// SPMD call pattern needs.
type chanWorld struct {
	size    int
	boxes   [][]chan []byte // boxes[from][to]
	metrics *Metrics

	closeOnce sync.Once
	closed    chan struct{}
}

type chanComm struct {
	w    *chanWorld
	rank int
}

// NewChanWorld returns one communicator per rank, all sharing in-process
// channels
func NewChanWorld(size int, m *Metrics) []Comm {
	if size < 1 {
		panic(fmt.Sprintf("comm: world size must be positive, got %d", size))
	}
	w := &chanWorld{
		size:    size,
		boxes:   make([][]chan []byte, size),
		metrics: m,
		closed:  make(chan struct{}),
	}
	for from := range w.boxes {
		w.boxes[from] = make([]chan []byte, size)
		for to := range w.boxes[from] {
			w.boxes[from][to] = make(chan []byte, mailboxDepth)
		}
	}

	comms := make([]Comm, size)
	for r := range comms {
		comms[r] = &chanComm{w: w, rank: r}
	}
	return comms
}

func (c *chanComm) Rank() int { return c.rank }
func (c *chanComm) Size() int { return c.w.size }

func (c *chanComm) stats() *Metrics { return c.w.metrics }

func (c *chanComm) checkPeer(r int) error {
	if r < 0 || r >= c.w.size {
		return fmt.Errorf("comm: rank %d out of range [0,%d)", r, c.w.size)
	}
	return nil
}

func (c *chanComm) Send(ctx context.Context, to int, buf []byte) error {
	if err := c.checkPeer(to); err != nil {
		return err
	}
	msg := make([]byte, len(buf))
	copy(msg, buf)

	select {
	case c.w.boxes[c.rank][to] <- msg:
		c.w.metrics.sent(c.rank, "send", len(msg))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.w.closed:
		return ErrClosed
	}
}

func (c *chanComm) Recv(ctx context.Context, from int) ([]byte, error) {
	if err := c.checkPeer(from); err != nil {
		return nil, err
	}
	select {
	case msg := <-c.w.boxes[from][c.rank]:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.w.closed:
		return nil, ErrClosed
	}
}

func (c *chanComm) SendRecv(ctx context.Context, to int, buf []byte, from int) ([]byte, error) {
	if err := c.Send(ctx, to, buf); err != nil {
		return nil, err
	}
	return c.Recv(ctx, from)
}

func (c *chanComm) Bcast(ctx context.Context, root int, buf []byte) ([]byte, error) {
	if err := c.checkPeer(root); err != nil {
		return nil, err
	}
	return bcastP2P(ctx, c, root, buf)
}

func (c *chanComm) AllReduce(ctx context.Context, vals []float64, op Op) ([]float64, error) {
	return allReduceP2P(ctx, c, vals, op)
}

// Close shuts the whole world down; peers blocked in Send or Recv return
// ErrClosed
func (c *chanComm) Close() error {
	c.w.closeOnce.Do(func() { close(c.w.closed) })
	return nil
}
