// Package config reads the INI-style input deck that drives a polarizable
// simulation run.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gcfg.v1"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/drude"
	"github.com/notargets/DrudeKernel/thole"
)

// UnitsConfig holds the conversion constants of the unit system
type UnitsConfig struct {
	QQRD2E float64
	MVV2E  float64
	Boltz  float64
}

func (u *UnitsConfig) CheckInit() error {
	if u.QQRD2E == 0 {
		u.QQRD2E = 1
	}
	if u.MVV2E == 0 {
		u.MVV2E = 1
	}
	if u.Boltz == 0 {
		u.Boltz = 1
	}
	if u.QQRD2E < 0 || u.MVV2E < 0 || u.Boltz < 0 {
		return fmt.Errorf("[units] constants must be positive, got qqrd2e=%g mvv2e=%g boltz=%g",
			u.QQRD2E, u.MVV2E, u.Boltz)
	}
	return nil
}

// TholeConfig holds the pair style's global settings
type TholeConfig struct {
	// Required
	Damping, Cutoff float64

	// Optional
	Mix       string
	Offset    bool
	Special12 float64
	Special13 float64
	Special14 float64
}

func (tc *TholeConfig) CheckInit() error {
	if tc.Damping <= 0 {
		return fmt.Errorf("[thole] needs a positive damping, got %g", tc.Damping)
	}
	if tc.Cutoff <= 0 {
		return fmt.Errorf("[thole] needs a positive cutoff, got %g", tc.Cutoff)
	}
	if _, err := thole.ParseMixRule(tc.Mix); err != nil {
		return fmt.Errorf("[thole] %w", err)
	}
	for _, w := range []float64{tc.Special12, tc.Special13, tc.Special14} {
		if w < 0 || w > 1 {
			return fmt.Errorf("[thole] special weights must lie in [0, 1], got %g", w)
		}
	}
	return nil
}

// PairConfig holds one `[pair "I J"]` section. Zero Thole and Cutoff fall
// back to the global settings.
type PairConfig struct {
	Polar  float64
	Thole  float64
	Cutoff float64

	Name string
}

func (pc *PairConfig) CheckInit(name string, ntypes int) error {
	types := strings.Fields(name)
	if len(types) != 2 {
		return fmt.Errorf("[pair %q] must name two type ranges", name)
	}
	for _, tok := range types {
		if _, _, err := thole.Bounds(tok, ntypes); err != nil {
			return fmt.Errorf("[pair %q]: %w", name, err)
		}
	}
	if pc.Polar <= 0 {
		return fmt.Errorf("[pair %q] needs a positive polar, got %g", name, pc.Polar)
	}
	if pc.Thole < 0 || pc.Cutoff < 0 {
		return fmt.Errorf("[pair %q] thole and cutoff must not be negative", name)
	}
	if pc.Thole == 0 && pc.Cutoff > 0 {
		return fmt.Errorf("[pair %q] a cutoff requires an explicit thole", name)
	}
	pc.Name = name
	return nil
}

// Args renders the section as Coeff arguments
func (pc *PairConfig) Args() []string {
	args := append(strings.Fields(pc.Name), formatFloat(pc.Polar))
	if pc.Thole > 0 {
		args = append(args, formatFloat(pc.Thole))
		if pc.Cutoff > 0 {
			args = append(args, formatFloat(pc.Cutoff))
		}
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// DrudeConfig assigns a role to every atom type, positionally (C D N) or
// as type:role pairs
type DrudeConfig struct {
	Types string
}

// SystemConfig describes the generated lattice of polarizable dimers
type SystemConfig struct {
	// Required
	NTypes     int
	Lx, Ly, Lz float64
	Cells      int

	// Optional
	Mass      []float64
	Charge    float64
	Bond      float64
	Spacing   float64
	Velocity  float64
	Seed      int64
	CoreType  int
	DrudeType int
}

func (sc *SystemConfig) CheckInit() error {
	if sc.NTypes < 1 {
		return fmt.Errorf("[system] needs ntypes >= 1, got %d", sc.NTypes)
	}
	if sc.Lx <= 0 || sc.Ly <= 0 || sc.Lz <= 0 {
		return fmt.Errorf("[system] box lengths must be positive, got %g %g %g", sc.Lx, sc.Ly, sc.Lz)
	}
	if sc.Cells < 1 {
		return fmt.Errorf("[system] needs cells >= 1, got %d", sc.Cells)
	}
	if len(sc.Mass) != 0 && len(sc.Mass) != sc.NTypes {
		return fmt.Errorf("[system] gives %d masses for %d types", len(sc.Mass), sc.NTypes)
	}
	if sc.Charge == 0 {
		sc.Charge = 1
	}
	if sc.Bond == 0 {
		sc.Bond = 0.1
	}
	if sc.Spacing == 0 {
		sc.Spacing = sc.Lx / float64(sc.Cells)
	}
	if sc.CoreType == 0 {
		sc.CoreType = 1
	}
	if sc.DrudeType == 0 {
		sc.DrudeType = 2
	}
	for _, typ := range []int{sc.CoreType, sc.DrudeType} {
		if typ < 1 || typ > sc.NTypes {
			return fmt.Errorf("[system] type %d outside 1..%d", typ, sc.NTypes)
		}
	}
	if sc.Bond >= sc.Spacing {
		return fmt.Errorf("[system] bond %g must be shorter than the lattice spacing %g", sc.Bond, sc.Spacing)
	}
	if float64(sc.Cells)*sc.Spacing > sc.Lx || float64(sc.Cells)*sc.Spacing > sc.Ly ||
		float64(sc.Cells)*sc.Spacing > sc.Lz {
		return fmt.Errorf("[system] %d cells of spacing %g do not fit the box", sc.Cells, sc.Spacing)
	}
	return nil
}

// RunConfig controls the driver
type RunConfig struct {
	Ranks     int
	Transport string
	Balance   bool
	Newton    bool
	Skin      float64
	// BondSkin widens the ghost region past cutoff plus skin so the core
	// of every ghost Drude is also present. Defaults to twice the bond.
	BondSkin  float64
	Steps     int
	Every     int
	Dt        float64
	Restart   string
	Device    string
}

func (rc *RunConfig) CheckInit() error {
	if rc.Ranks == 0 {
		rc.Ranks = 1
	}
	if rc.Ranks < 1 {
		return fmt.Errorf("[run] needs ranks >= 1, got %d", rc.Ranks)
	}
	switch rc.Transport {
	case "":
		rc.Transport = "chan"
	case "chan", "socket":
	default:
		return fmt.Errorf("[run] unknown transport %q, want chan or socket", rc.Transport)
	}
	if rc.Skin < 0 || rc.BondSkin < 0 || rc.Steps < 0 || rc.Dt < 0 || rc.Every < 0 {
		return fmt.Errorf("[run] skin, bondskin, steps, every and dt must not be negative")
	}
	if rc.Every == 0 {
		rc.Every = 1
	}
	if rc.Dt == 0 {
		rc.Dt = 0.001
	}
	return nil
}

// Deck is the whole input file
type Deck struct {
	Units  UnitsConfig
	Thole  TholeConfig
	Pair   map[string]*PairConfig
	Drude  DrudeConfig
	System SystemConfig
	Run    RunConfig
}

// ReadDeck parses and validates the deck in fname
func ReadDeck(fname string) (*Deck, error) {
	d := &Deck{}
	if err := gcfg.ReadFileInto(d, fname); err != nil {
		return nil, err
	}
	if err := d.CheckInit(); err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}
	return d, nil
}

// ParseDeck parses and validates a deck held in memory
func ParseDeck(text string) (*Deck, error) {
	d := &Deck{}
	if err := gcfg.ReadStringInto(d, text); err != nil {
		return nil, err
	}
	if err := d.CheckInit(); err != nil {
		return nil, err
	}
	return d, nil
}

// CheckInit validates every section and fills defaults
func (d *Deck) CheckInit() error {
	if err := d.Units.CheckInit(); err != nil {
		return err
	}
	if err := d.Thole.CheckInit(); err != nil {
		return err
	}
	if err := d.System.CheckInit(); err != nil {
		return err
	}
	if err := d.Run.CheckInit(); err != nil {
		return err
	}
	if d.Run.BondSkin == 0 {
		d.Run.BondSkin = 2 * d.System.Bond
	}
	if d.Run.BondSkin < d.System.Bond {
		return fmt.Errorf("[run] bondskin %g is shorter than the bond %g", d.Run.BondSkin, d.System.Bond)
	}
	if len(d.Pair) == 0 {
		return fmt.Errorf("no [pair] sections")
	}
	for name, pc := range d.Pair {
		if err := pc.CheckInit(name, d.System.NTypes); err != nil {
			return err
		}
	}
	roles, err := d.Roles()
	if err != nil {
		return err
	}
	if roles.Of(d.System.CoreType) != drude.Core || roles.Of(d.System.DrudeType) != drude.Drude {
		return fmt.Errorf("[system] core type %d and Drude type %d do not match [drude] roles",
			d.System.CoreType, d.System.DrudeType)
	}
	return nil
}

// Roles builds the role table of [drude]
func (d *Deck) Roles() (*drude.RoleTable, error) {
	return drude.ParseRoleTable(d.System.NTypes, strings.Fields(d.Drude.Types))
}

// NeighborCutoff is the pair cutoff plus the neighbor skin
func (d *Deck) NeighborCutoff(pairCut float64) float64 {
	return pairCut + d.Run.Skin
}

// GhostCutoff is the width of the ghost region: neighbors of owned atoms
// out to NeighborCutoff, plus the bond skin so a ghost Drude inside that
// range finds its core
func (d *Deck) GhostCutoff(pairCut float64) float64 {
	return d.NeighborCutoff(pairCut) + d.Run.BondSkin
}

// Box returns the periodic simulation cell
func (d *Deck) Box() atom.Box {
	return atom.NewPeriodicBox(d.System.Lx, d.System.Ly, d.System.Lz)
}

// PairNames returns the [pair] subsection names in application order
func (d *Deck) PairNames() []string {
	names := make([]string, 0, len(d.Pair))
	for name := range d.Pair {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPair configures a Thole pair style from [units], [thole] and [pair]
func (d *Deck) NewPair(logger *zap.Logger) (*thole.Pair, error) {
	p := thole.NewPair(d.System.NTypes, logger)
	p.QQRD2E = d.Units.QQRD2E
	p.SpecialCoul = [4]float64{1, d.Thole.Special12, d.Thole.Special13, d.Thole.Special14}
	mix, err := thole.ParseMixRule(d.Thole.Mix)
	if err != nil {
		return nil, err
	}
	p.MixFlag = mix
	if d.Thole.Offset {
		p.OffsetFlag = 1
	}
	if err := p.Settings([]string{formatFloat(d.Thole.Damping), formatFloat(d.Thole.Cutoff)}); err != nil {
		return nil, err
	}
	for _, name := range d.PairNames() {
		if err := p.Coeff(d.Pair[name].Args()); err != nil {
			return nil, fmt.Errorf("[pair %q]: %w", name, err)
		}
	}
	return p, nil
}
