package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// pollInterval is how long a blocked socket call waits before it re-checks
// its context
const pollInterval = 50 * time.Millisecond

// frameHeader is the sender rank, little endian
const frameHeader = 4

// socketComm is one rank of a mesh of mangos PUSH/PULL sockets. Every rank
// listens on a single PULL socket and holds one PUSH socket per peer. Frames
// carry the sender rank so Recv can demultiplex; payloads are snappy
// compressed.
type socketComm struct {
	rank    int
	size    int
	pull    mangos.Socket
	push    []mangos.Socket
	pending map[int][][]byte
	metrics *Metrics
}

// NewSocketComm creates the communicator for one rank of a world whose ranks
// listen on addrs (inproc://, ipc:// or tcp:// URLs). Dials are asynchronous
// so ranks may start in any order.
func NewSocketComm(addrs []string, rank int, m *Metrics) (Comm, error) {
	c, err := listenSocketComm(addrs, rank, m)
	if err != nil {
		return nil, err
	}
	if err := c.dial(addrs, true); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NewSocketWorld creates every rank of an in-process world on inproc
// addresses derived from name. Useful for tests and single-host runs.
func NewSocketWorld(name string, size int, m *Metrics) ([]Comm, error) {
	addrs := make([]string, size)
	for r := range addrs {
		addrs[r] = fmt.Sprintf("inproc://%s-%d", name, r)
	}

	socks := make([]*socketComm, size)
	cleanup := func() {
		for _, s := range socks {
			if s != nil {
				s.Close()
			}
		}
	}
	// All listeners first, so synchronous dials succeed
	for r := range socks {
		s, err := listenSocketComm(addrs, r, m)
		if err != nil {
			cleanup()
			return nil, err
		}
		socks[r] = s
	}
	for _, s := range socks {
		if err := s.dial(addrs, false); err != nil {
			cleanup()
			return nil, err
		}
	}

	comms := make([]Comm, size)
	for r, s := range socks {
		comms[r] = s
	}
	return comms, nil
}

func listenSocketComm(addrs []string, rank int, m *Metrics) (*socketComm, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("comm: rank %d out of range [0,%d)", rank, len(addrs))
	}
	sock, err := pull.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PULL socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, pollInterval); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to set recv deadline: %w", err)
	}
	if err := sock.Listen(addrs[rank]); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addrs[rank], err)
	}
	return &socketComm{
		rank:    rank,
		size:    len(addrs),
		pull:    sock,
		push:    make([]mangos.Socket, len(addrs)),
		pending: make(map[int][][]byte),
		metrics: m,
	}, nil
}

func (c *socketComm) dial(addrs []string, async bool) error {
	for to, addr := range addrs {
		sock, err := push.NewSocket()
		if err != nil {
			return fmt.Errorf("failed to create PUSH socket: %w", err)
		}
		c.push[to] = sock
		if err := sock.SetOption(mangos.OptionSendDeadline, pollInterval); err != nil {
			return fmt.Errorf("failed to set send deadline: %w", err)
		}
		opts := map[string]interface{}{mangos.OptionDialAsynch: async}
		if err := sock.DialOptions(addr, opts); err != nil {
			return fmt.Errorf("failed to dial rank %d at %s: %w", to, addr, err)
		}
	}
	return nil
}

func (c *socketComm) Rank() int { return c.rank }
func (c *socketComm) Size() int { return c.size }

func (c *socketComm) stats() *Metrics { return c.metrics }

func (c *socketComm) Send(ctx context.Context, to int, buf []byte) error {
	if to < 0 || to >= c.size {
		return fmt.Errorf("comm: rank %d out of range [0,%d)", to, c.size)
	}
	payload := snappy.Encode(nil, buf)
	frame := make([]byte, frameHeader+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(c.rank))
	copy(frame[frameHeader:], payload)

	for {
		err := c.push[to].Send(frame)
		if err == nil {
			c.metrics.sent(c.rank, "send", len(frame))
			return nil
		}
		if !errors.Is(err, mangos.ErrSendTimeout) {
			return fmt.Errorf("send to rank %d: %w", to, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *socketComm) Recv(ctx context.Context, from int) ([]byte, error) {
	if from < 0 || from >= c.size {
		return nil, fmt.Errorf("comm: rank %d out of range [0,%d)", from, c.size)
	}
	if q := c.pending[from]; len(q) > 0 {
		c.pending[from] = q[1:]
		return q[0], nil
	}

	for {
		frame, err := c.pull.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrRecvTimeout) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, mangos.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("recv from rank %d: %w", from, err)
		}
		if len(frame) < frameHeader {
			return nil, fmt.Errorf("comm: short frame of %d bytes", len(frame))
		}
		sender := int(binary.LittleEndian.Uint32(frame))
		payload, err := snappy.Decode(nil, frame[frameHeader:])
		if err != nil {
			return nil, fmt.Errorf("corrupt frame from rank %d: %w", sender, err)
		}
		if sender == from {
			return payload, nil
		}
		c.pending[sender] = append(c.pending[sender], payload)
	}
}

func (c *socketComm) SendRecv(ctx context.Context, to int, buf []byte, from int) ([]byte, error) {
	if err := c.Send(ctx, to, buf); err != nil {
		return nil, err
	}
	return c.Recv(ctx, from)
}

func (c *socketComm) Bcast(ctx context.Context, root int, buf []byte) ([]byte, error) {
	if root < 0 || root >= c.size {
		return nil, fmt.Errorf("comm: rank %d out of range [0,%d)", root, c.size)
	}
	return bcastP2P(ctx, c, root, buf)
}

func (c *socketComm) AllReduce(ctx context.Context, vals []float64, op Op) ([]float64, error) {
	return allReduceP2P(ctx, c, vals, op)
}

func (c *socketComm) Close() error {
	var first error
	for _, s := range c.push {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := c.pull.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
