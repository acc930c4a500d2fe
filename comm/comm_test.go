package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// worlds returns both transports at the given size
func worlds(t *testing.T, size int) map[string][]Comm {
	sockets, err := NewSocketWorld(fmt.Sprintf("%s-%d", t.Name(), size), size, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, c := range sockets {
			c.Close()
		}
	})
	return map[string][]Comm{
		"chan":   NewChanWorld(size, nil),
		"socket": sockets,
	}
}

func TestRing_VisitsEveryRankOnce(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5} {
		for name, comms := range worlds(t, size) {
			t.Run(fmt.Sprintf("%s/%d", name, size), func(t *testing.T) {
				var mu sync.Mutex
				seen := make(map[int][]int) // origin -> visiting ranks

				err := Run(testContext(t), comms, func(ctx context.Context, c Comm) error {
					home, err := Ring(ctx, c, []byte{byte(c.Rank())}, func(origin int, buf []byte) ([]byte, error) {
						if int(buf[0]) != origin {
							return nil, fmt.Errorf("buffer from %d labelled %d", origin, buf[0])
						}
						mu.Lock()
						seen[origin] = append(seen[origin], c.Rank())
						mu.Unlock()
						return append(buf, byte(c.Rank())), nil
					})
					if err != nil {
						return err
					}
					if len(home) != size+1 || int(home[0]) != c.Rank() {
						return fmt.Errorf("buffer did not return home intact: %v", home)
					}
					return nil
				})
				require.NoError(t, err)

				for origin := 0; origin < size; origin++ {
					assert.ElementsMatch(t, makeRange(size), seen[origin], "origin %d", origin)
				}
			})
		}
	}
}

func TestRing_ErrorDoesNotStallPeers(t *testing.T) {
	comms := NewChanWorld(3, nil)
	boom := errors.New("boom")

	errs := make([]error, 3)
	_ = Run(testContext(t), comms, func(ctx context.Context, c Comm) error {
		_, err := Ring(ctx, c, []byte{0}, func(origin int, buf []byte) ([]byte, error) {
			if c.Rank() == 1 && origin == 0 {
				return nil, boom
			}
			return buf, nil
		})
		errs[c.Rank()] = AgreeOnError(ctx, c, err)
		return nil
	})

	assert.ErrorIs(t, errs[1], boom)
	assert.ErrorIs(t, errs[0], ErrRemoteFailure)
	assert.ErrorIs(t, errs[2], ErrRemoteFailure)
}

func TestRun_EachRankOnItsOwnComm(t *testing.T) {
	comms := NewChanWorld(4, nil)
	var mu sync.Mutex
	seen := make(map[int]int)
	err := Run(testContext(t), comms, func(ctx context.Context, c Comm) error {
		mu.Lock()
		seen[c.Rank()]++
		mu.Unlock()
		if c.Rank() == 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, "rank 2: boom", err.Error())
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1, 3: 1}, seen)
}

func TestAllReduceAndBcast(t *testing.T) {
	for name, comms := range worlds(t, 4) {
		t.Run(name, func(t *testing.T) {
			err := Run(testContext(t), comms, func(ctx context.Context, c Comm) error {
				r := float64(c.Rank())
				sum, err := c.AllReduce(ctx, []float64{r, 1}, Sum)
				if err != nil {
					return err
				}
				if sum[0] != 6 || sum[1] != 4 {
					return fmt.Errorf("sum = %v", sum)
				}
				max, err := c.AllReduce(ctx, []float64{r}, Max)
				if err != nil {
					return err
				}
				if max[0] != 3 {
					return fmt.Errorf("max = %v", max)
				}
				var payload []byte
				if c.Rank() == 2 {
					payload = []byte("from two")
				}
				got, err := c.Bcast(ctx, 2, payload)
				if err != nil {
					return err
				}
				if string(got) != "from two" {
					return fmt.Errorf("bcast = %q", got)
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestMetrics_RingHops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	comms := NewChanWorld(3, m)

	err := Run(testContext(t), comms, func(ctx context.Context, c Comm) error {
		_, err := Ring(ctx, c, []byte("x"), func(_ int, buf []byte) ([]byte, error) { return buf, nil })
		return err
	})
	require.NoError(t, err)

	for r := 0; r < 3; r++ {
		assert.Equal(t, 3.0, testutil.ToFloat64(m.RingHops.WithLabelValues(fmt.Sprint(r))))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Messages.WithLabelValues("0", "send")))
}

func TestFloatCodec(t *testing.T) {
	vals := []float64{0, -1.5, 3e300, 1e-300}
	assert.Equal(t, vals, DecodeFloats(EncodeFloats(vals)))
}

func makeRange(n int) []int {
	r := make([]int, n)
	for i := range r {
		r[i] = i
	}
	return r
}
