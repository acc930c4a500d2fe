package partitions

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/comm"
)

const testCutoff = 1.5

// gridAtoms returns tag -> position for a 12 x 3 x 2 lattice in a 12x6x6 box
func gridAtoms() map[int64][3]float64 {
	pos := make(map[int64][3]float64)
	tag := int64(1)
	for i := 0; i < 12; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 2; k++ {
				pos[tag] = [3]float64{0.5 + float64(i), 0.5 + 2*float64(j), 0.5 + 3*float64(k)}
				tag++
			}
		}
	}
	return pos
}

func setupDomains(t *testing.T, nranks int) ([]comm.Comm, []*Domain, map[int64][3]float64) {
	box := atom.NewPeriodicBox(12, 6, 6)
	pos := gridAtoms()
	pb := &LayoutBuilder{Box: box, NumPartitions: nranks}
	layout, err := pb.BuildLayout(nil)
	require.NoError(t, err)

	comms := comm.NewChanWorld(nranks, nil)
	domains := make([]*Domain, nranks)
	for r := range domains {
		st := atom.NewStore(1, box)
		for tag := int64(1); tag <= int64(len(pos)); tag++ {
			if layout.GetPartition(pos[tag][0]) == r {
				_, err := st.AddAtom(tag, 1, pos[tag], 0)
				require.NoError(t, err)
			}
		}
		domains[r], err = NewDomain(comms[r], layout, st, testCutoff, nil)
		require.NoError(t, err)
	}
	return comms, domains, pos
}

func runRanks(t *testing.T, comms []comm.Comm, domains []*Domain, fn func(ctx context.Context, dm *Domain) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := comm.Run(ctx, comms, func(ctx context.Context, c comm.Comm) error {
		return fn(ctx, domains[c.Rank()])
	})
	require.NoError(t, err)
}

func TestDomain_ExchangeMovesAtoms(t *testing.T) {
	for _, nranks := range []int{1, 2, 3} {
		t.Run(fmt.Sprint(nranks), func(t *testing.T) {
			comms, domains, pos := setupDomains(t, nranks)

			// shift everything by most of a slab so atoms cross, and some wrap
			shift := 0.9 * 12 / float64(nranks)
			moved := make(map[int64][3]float64)
			for tag, x := range pos {
				moved[tag] = atom.NewPeriodicBox(12, 6, 6).Wrap([3]float64{x[0] + shift, x[1], x[2]})
			}
			for _, dm := range domains {
				for i := 0; i < dm.Store.NLocal; i++ {
					dm.Store.X[i][0] += shift
				}
			}

			runRanks(t, comms, domains, func(ctx context.Context, dm *Domain) error {
				return dm.Exchange(ctx)
			})

			seen := make(map[int64]int)
			for r, dm := range domains {
				st := dm.Store
				for i := 0; i < st.NLocal; i++ {
					seen[st.Tag[i]]++
					assert.Equal(t, r, dm.Layout.GetPartition(st.X[i][0]), "tag %d", st.Tag[i])
					assert.InDelta(t, moved[st.Tag[i]][0], st.X[i][0], 1e-9)
				}
			}
			assert.Len(t, seen, len(pos))
			for tag, n := range seen {
				assert.Equal(t, 1, n, "tag %d owned %d times", tag, n)
			}
		})
	}
}

func TestDomain_ExchangeLostAtom(t *testing.T) {
	comms, domains, _ := setupDomains(t, 4)
	// jump two slabs in one step
	domains[0].Store.X[0][0] += 6

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := make([]error, 4)
	_ = comm.Run(ctx, comms, func(ctx context.Context, c comm.Comm) error {
		errs[c.Rank()] = domains[c.Rank()].Exchange(ctx)
		return nil
	})
	assert.ErrorIs(t, errs[0], ErrLostAtom)
	for r := 1; r < 4; r++ {
		assert.ErrorIs(t, errs[r], comm.ErrRemoteFailure)
	}
}

func TestDomain_BordersFindEveryImage(t *testing.T) {
	for _, nranks := range []int{1, 2, 4} {
		t.Run(fmt.Sprint(nranks), func(t *testing.T) {
			comms, domains, pos := setupDomains(t, nranks)
			runRanks(t, comms, domains, func(ctx context.Context, dm *Domain) error {
				return dm.Borders(ctx)
			})

			box := atom.NewPeriodicBox(12, 6, 6)
			for _, dm := range domains {
				st := dm.Store
				assert.Greater(t, st.NGhost, 0)
				for i := 0; i < st.NLocal; i++ {
					for tag, xj := range pos {
						if tag == st.Tag[i] {
							continue
						}
						del := box.MinimumImage([3]float64{
							xj[0] - st.X[i][0], xj[1] - st.X[i][1], xj[2] - st.X[i][2],
						})
						if del[0]*del[0]+del[1]*del[1]+del[2]*del[2] >= testCutoff*testCutoff {
							continue
						}
						want := [3]float64{st.X[i][0] + del[0], st.X[i][1] + del[1], st.X[i][2] + del[2]}
						assert.True(t, hasImage(st, tag, want), "rank %d: tag %d missing image of %d at %v",
							dm.Comm.Rank(), st.Tag[i], tag, want)
					}
				}
			}
		})
	}
}

func hasImage(st *atom.Store, tag int64, x [3]float64) bool {
	for k := 0; k < st.NAll(); k++ {
		if st.Tag[k] == tag && atom.Dist2(st.X[k], x) < 1e-12 {
			return true
		}
	}
	return false
}

func TestDomain_ForwardAndReverse(t *testing.T) {
	comms, domains, _ := setupDomains(t, 3)
	runRanks(t, comms, domains, func(ctx context.Context, dm *Domain) error {
		return dm.Borders(ctx)
	})

	// owners drift, ghosts must follow; every ghost pushes a unit force home
	var mu sync.Mutex
	ghostCount := make(map[int64]float64)
	for _, dm := range domains {
		st := dm.Store
		for i := 0; i < st.NLocal; i++ {
			st.X[i][1] += 0.125
			st.F[i] = [3]float64{}
		}
		for k := st.NLocal; k < st.NAll(); k++ {
			st.F[k] = [3]float64{1, 0, 0}
			ghostCount[st.Tag[k]]++
		}
	}

	owner := make(map[int64][3]float64)
	runRanks(t, comms, domains, func(ctx context.Context, dm *Domain) error {
		st := dm.Store
		mu.Lock()
		for i := 0; i < st.NLocal; i++ {
			owner[st.Tag[i]] = st.X[i]
		}
		mu.Unlock()
		if err := dm.ForwardComm(ctx); err != nil {
			return err
		}
		return dm.ReverseComm(ctx)
	})

	for _, dm := range domains {
		st := dm.Store
		for k := st.NLocal; k < st.NAll(); k++ {
			o := owner[st.Tag[k]]
			assert.InDelta(t, o[1], st.X[k][1]-6*math.Round((st.X[k][1]-o[1])/6), 1e-12)
			assert.InDelta(t, o[0], st.X[k][0]-12*math.Round((st.X[k][0]-o[0])/12), 1e-12)
		}
		for i := 0; i < st.NLocal; i++ {
			assert.Equal(t, ghostCount[st.Tag[i]], st.F[i][0], "tag %d", st.Tag[i])
		}
	}
}
