// Package sim drives a polarizable dimer system through partner
// resolution, migration and Thole force evaluation on simulated ranks.
package sim

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/comm"
	"github.com/notargets/DrudeKernel/config"
	"github.com/notargets/DrudeKernel/drude"
	"github.com/notargets/DrudeKernel/neighbor"
	"github.com/notargets/DrudeKernel/partitions"
	"github.com/notargets/DrudeKernel/temp"
	"github.com/notargets/DrudeKernel/thole"
	"github.com/notargets/DrudeKernel/utils"
)

// Step is the reduced state after one force evaluation
type Step struct {
	Step      int        `yaml:"step"`
	Energy    float64    `yaml:"energy"`
	Virial    [6]float64 `yaml:"virial"`
	TempDrude float64    `yaml:"temp_drude"`
	Ghosts    int        `yaml:"ghosts"`
	Pairs     int        `yaml:"pairs"`
}

// Report summarizes a run
type Report struct {
	RunID     string  `yaml:"run_id"`
	Ranks     int     `yaml:"ranks"`
	Transport string  `yaml:"transport"`
	Atoms     int     `yaml:"atoms"`
	Dimers    int     `yaml:"dimers"`
	Imbalance float64 `yaml:"imbalance"`
	RingHops  float64 `yaml:"ring_hops"`
	Steps     []Step  `yaml:"steps"`
}

// rank is the per-process state of a run
type rank struct {
	comm    comm.Comm
	store   *atom.Store
	builder *drude.Builder
	domain  *partitions.Domain
	pair    *thole.Pair
	temp    *temp.TempDrude
	logger  *zap.Logger
	release func()
}

// Run executes the deck. When restartOut is non-empty the pair
// coefficients are written there from rank 0 at the end.
func Run(ctx context.Context, deck *config.Deck, logger *zap.Logger, restartOut string) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := &Report{
		RunID:     uuid.New().String(),
		Ranks:     deck.Run.Ranks,
		Transport: deck.Run.Transport,
	}
	logger = logger.With(zap.String("run", report.RunID))

	box := deck.Box()
	sites := Lattice(deck.System)
	xs := make([]float64, len(sites))
	for k := range sites {
		sites[k].X = box.Wrap(sites[k].X)
		xs[k] = sites[k].X[0]
	}
	report.Atoms, report.Dimers = len(sites), len(sites)/2

	pb := &partitions.LayoutBuilder{Box: box, NumPartitions: deck.Run.Ranks}
	if deck.Run.Balance {
		pb.Strategy = partitions.BalancedSlabs
	}
	layout, err := pb.BuildLayout(xs)
	if err != nil {
		return nil, err
	}
	stats := layout.PartitionStatistics()
	report.Imbalance = stats.Imbalance
	if stats.Imbalance > 1.2 {
		logger.Warn("slab load imbalance", zap.Float64("imbalance", stats.Imbalance))
	}

	reg := prometheus.NewRegistry()
	metrics := comm.NewMetrics(reg)
	comms, err := newWorld(deck, report.RunID, metrics)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, c := range comms {
			c.Close()
		}
	}()

	ranks := make([]*rank, len(comms))
	for r, c := range comms {
		if ranks[r], err = newRank(deck, c, layout, logger); err != nil {
			return nil, fmt.Errorf("rank %d: %w", r, err)
		}
	}
	for _, s := range sites {
		rk := ranks[layout.GetPartition(s.X[0])]
		i, err := rk.store.AddAtom(s.Tag, s.Type, s.X, s.Q)
		if err != nil {
			return nil, err
		}
		rk.store.V[i] = s.V
		rk.store.Bonds[i] = s.Bonds
	}

	steps := make([]Step, deck.Run.Steps+1)
	err = comm.Run(ctx, comms, func(ctx context.Context, c comm.Comm) error {
		rk := ranks[c.Rank()]
		defer rk.close()
		return rk.run(ctx, deck, steps)
	})
	if err != nil {
		return nil, err
	}
	report.Steps = steps

	if restartOut != "" {
		if err := writeRestart(restartOut, ranks[0].pair); err != nil {
			return nil, err
		}
		logger.Info("wrote restart", zap.String("path", restartOut))
	}
	report.RingHops = ringHops(reg)
	return report, nil
}

func newWorld(deck *config.Deck, name string, m *comm.Metrics) ([]comm.Comm, error) {
	if deck.Run.Transport == "socket" {
		return comm.NewSocketWorld(name, deck.Run.Ranks, m)
	}
	return comm.NewChanWorld(deck.Run.Ranks, m), nil
}

func newRank(deck *config.Deck, c comm.Comm, layout *partitions.Layout, logger *zap.Logger) (*rank, error) {
	logger = logger.With(zap.Int("rank", c.Rank()))
	roles, err := deck.Roles()
	if err != nil {
		return nil, err
	}
	st := atom.NewStore(deck.System.NTypes, deck.Box())
	for t, m := range deck.System.Mass {
		st.Mass[t+1] = m
	}
	b, err := drude.NewBuilder(c, st, roles, logger)
	if err != nil {
		return nil, err
	}
	pair, err := deck.NewPair(logger)
	if err != nil {
		return nil, err
	}
	if err := pair.Init(st, roles); err != nil {
		return nil, err
	}
	dm, err := partitions.NewDomain(c, layout, st, deck.GhostCutoff(pair.MaxCutoff()), logger)
	if err != nil {
		return nil, err
	}
	rk := &rank{comm: c, store: st, builder: b, domain: dm, pair: pair, logger: logger}
	if deck.Run.Device != "" {
		device, err := utils.CreateDevice(logger, deck.Run.Device)
		if err != nil {
			return nil, err
		}
		if pair.Device, err = thole.NewAccelerator(device); err != nil {
			device.Free()
			return nil, err
		}
		rk.release = func() {
			pair.Device.Free()
			device.Free()
		}
	}
	rk.temp = temp.NewTempDrude(c, st, roles, b.Partners, logger)
	rk.temp.MVV2E, rk.temp.Boltz = deck.Units.MVV2E, deck.Units.Boltz
	return rk, nil
}

func (rk *rank) close() {
	if rk.release != nil {
		rk.release()
	}
}

func (rk *rank) system() thole.System {
	return thole.System{Store: rk.store, Roles: rk.builder.Roles, Partners: rk.builder.Partners}
}

// run resolves partners, then alternates drift and force evaluation.
// Every deck.Run.Every steps atoms migrate and ghosts and the neighbor list
// are rebuilt; in between only ghost positions are refreshed. Partners are
// verified again after the last step.
func (rk *rank) run(ctx context.Context, deck *config.Deck, steps []Step) error {
	if err := rk.builder.Rebuild(ctx); err != nil {
		return err
	}
	if err := rk.builder.Verify(ctx); err != nil {
		return err
	}
	if err := rk.temp.Setup(ctx); err != nil {
		return err
	}

	st := rk.store
	var list *neighbor.List
	for step := 0; step <= deck.Run.Steps; step++ {
		if step > 0 {
			for i := 0; i < st.NLocal; i++ {
				for d := 0; d < 3; d++ {
					st.X[i][d] += deck.Run.Dt * st.V[i][d]
				}
			}
		}
		if step%deck.Run.Every == 0 {
			var err error
			if list, err = rk.reneighbor(ctx, deck); err != nil {
				return err
			}
		} else if err := rk.domain.ForwardComm(ctx); err != nil {
			return err
		}

		st.ZeroForces()
		tally, err := rk.pair.Compute(rk.system(), list, true, true)
		if err != nil {
			return err
		}
		if deck.Run.Newton {
			if err := rk.domain.ReverseComm(ctx); err != nil {
				return err
			}
		}
		sum, err := tally.Reduce(ctx, rk.comm)
		if err != nil {
			return err
		}
		t, err := rk.temp.ComputeScalar(ctx)
		if err != nil {
			return err
		}
		if rk.comm.Rank() == 0 {
			steps[step] = Step{
				Step:      step,
				Energy:    sum.Energy,
				Virial:    sum.Virial,
				TempDrude: t,
				Ghosts:    st.NGhost,
				Pairs:     list.Pairs(),
			}
		}
		rk.logger.Debug("step",
			zap.Int("step", step),
			zap.Int("nlocal", st.NLocal),
			zap.Float64("energy", sum.Energy),
			zap.Float64("temp_drude", t))
	}
	return rk.builder.Verify(ctx)
}

// reneighbor migrates atoms, sorts owned slots along x and rebuilds ghosts
// and the neighbor list
func (rk *rank) reneighbor(ctx context.Context, deck *config.Deck) (*neighbor.List, error) {
	st := rk.store
	if err := rk.domain.Exchange(ctx); err != nil {
		return nil, err
	}
	if err := st.Sort(func(a, b int) bool { return st.X[a][0] < st.X[b][0] }); err != nil {
		return nil, err
	}
	if err := rk.domain.Borders(ctx); err != nil {
		return nil, err
	}
	return neighbor.Build(st, deck.NeighborCutoff(rk.pair.MaxCutoff()), deck.Run.Newton)
}

func writeRestart(path string, p *thole.Pair) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteRestart(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadRestart loads a restart file into a pair with ntypes types
func ReadRestart(ctx context.Context, r io.Reader, ntypes int, logger *zap.Logger) (*thole.Pair, error) {
	p := thole.NewPair(ntypes, logger)
	c := comm.NewChanWorld(1, nil)[0]
	if err := p.ReadRestart(ctx, r, c); err != nil {
		return nil, err
	}
	return p, nil
}

func ringHops(g prometheus.Gatherer) float64 {
	families, err := g.Gather()
	if err != nil {
		return 0
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != "drude_comm_ring_hops_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
