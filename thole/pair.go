package thole

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/drude"
)

var (
	// ErrCoeffNotSet is returned by Init when a polarizable type pair has no
	// polarizability or damping coefficient
	ErrCoeffNotSet = errors.New("thole: pair coefficients not set")

	// ErrIllegalArgs covers malformed Settings and Coeff arguments
	ErrIllegalArgs = errors.New("thole: illegal arguments")

	// ErrMissingPartner is returned when a Drude's core is neither owned nor
	// a ghost on this rank
	ErrMissingPartner = errors.New("thole: partner not present")
)

// MixRule selects how an unset cutoff is derived from the diagonal entries
type MixRule int32

const (
	Geometric MixRule = iota
	Arithmetic
	SixthPower
)

// ParseMixRule accepts geometric, arithmetic and sixthpower
func ParseMixRule(s string) (MixRule, error) {
	switch strings.ToLower(s) {
	case "geometric", "":
		return Geometric, nil
	case "arithmetic":
		return Arithmetic, nil
	case "sixthpower":
		return SixthPower, nil
	}
	return 0, fmt.Errorf("%w: unknown mix rule %q", ErrIllegalArgs, s)
}

func (m MixRule) String() string {
	switch m {
	case Geometric:
		return "geometric"
	case Arithmetic:
		return "arithmetic"
	case SixthPower:
		return "sixthpower"
	}
	return fmt.Sprintf("MixRule(%d)", int32(m))
}

// Distance mixes two cutoffs
func (m MixRule) Distance(a, b float64) float64 {
	switch m {
	case Arithmetic:
		return 0.5 * (a + b)
	case SixthPower:
		return math.Pow(0.5*(math.Pow(a, 6)+math.Pow(b, 6)), 1.0/6.0)
	}
	return math.Sqrt(a * b)
}

// Pair is the Thole-damped Coulomb interaction between polarizable
// particles. Tables are indexed by atom type, 1..NTypes.
type Pair struct {
	NTypes int

	TholeGlobal float64
	CutGlobal   float64
	OffsetFlag  int32
	MixFlag     MixRule

	// QQRD2E converts q*q/r to energy units
	QQRD2E float64
	// SpecialCoul weights Coulomb terms by special level, [0] for ordinary pairs
	SpecialCoul [4]float64

	// Device, when set, evaluates the pair terms of Compute
	Device *Accelerator

	Logger *zap.Logger

	polar, thole, cut, scale, cutsq [][]float64
	setflag                         [][]bool

	configured  bool
	initialized bool
}

// NewPair allocates tables for ntypes atom types
func NewPair(ntypes int, logger *zap.Logger) *Pair {
	if ntypes < 1 {
		panic(fmt.Sprintf("thole: need at least one type, got %d", ntypes))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pair{
		NTypes:      ntypes,
		QQRD2E:      1,
		SpecialCoul: [4]float64{1, 0, 0, 0},
		Logger:      logger,
	}
	p.polar = newTable(ntypes, 0)
	p.thole = newTable(ntypes, 0)
	p.cut = newTable(ntypes, 0)
	p.scale = newTable(ntypes, 1)
	p.cutsq = newTable(ntypes, 0)
	p.setflag = make([][]bool, ntypes+1)
	for i := range p.setflag {
		p.setflag[i] = make([]bool, ntypes+1)
	}
	return p
}

func newTable(n int, fill float64) [][]float64 {
	t := make([][]float64, n+1)
	for i := range t {
		t[i] = make([]float64, n+1)
		for j := range t[i] {
			t[i][j] = fill
		}
	}
	return t
}

// Settings takes the global damping parameter and cutoff. Called again, it
// resets every explicitly set pair to the new globals.
func (p *Pair) Settings(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: settings need thole and cutoff, got %d values", ErrIllegalArgs, len(args))
	}
	th, err := parsePositive("thole", args[0])
	if err != nil {
		return err
	}
	cut, err := parsePositive("cutoff", args[1])
	if err != nil {
		return err
	}
	p.TholeGlobal, p.CutGlobal = th, cut

	if p.configured {
		for i := 1; i <= p.NTypes; i++ {
			for j := i; j <= p.NTypes; j++ {
				if p.setflag[i][j] {
					p.thole[i][j] = p.TholeGlobal
					p.cut[i][j] = p.CutGlobal
				}
			}
		}
	}
	p.configured = true
	p.initialized = false
	return nil
}

// Coeff sets coefficients for a range of type pairs:
// I J polar [thole [cutoff]]. I and J accept n, *, n*, *m and n*m.
func (p *Pair) Coeff(args []string) error {
	if len(args) < 3 || len(args) > 5 {
		return fmt.Errorf("%w: coeff needs 3 to 5 values, got %d", ErrIllegalArgs, len(args))
	}
	if !p.configured {
		return fmt.Errorf("%w: coeff before settings", ErrIllegalArgs)
	}
	ilo, ihi, err := Bounds(args[0], p.NTypes)
	if err != nil {
		return err
	}
	jlo, jhi, err := Bounds(args[1], p.NTypes)
	if err != nil {
		return err
	}
	polar, err := parsePositive("polar", args[2])
	if err != nil {
		return err
	}
	th, cut := p.TholeGlobal, p.CutGlobal
	if len(args) >= 4 {
		if th, err = parsePositive("thole", args[3]); err != nil {
			return err
		}
	}
	if len(args) == 5 {
		if cut, err = parsePositive("cutoff", args[4]); err != nil {
			return err
		}
	}

	count := 0
	for i := ilo; i <= ihi; i++ {
		for j := max(jlo, i); j <= jhi; j++ {
			p.polar[i][j] = polar
			p.thole[i][j] = th
			p.cut[i][j] = cut
			p.scale[i][j] = 1
			p.setflag[i][j] = true
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("%w: coeff %s %s selects no type pair with I <= J", ErrIllegalArgs, args[0], args[1])
	}
	p.initialized = false
	return nil
}

// Bounds parses a type range token against 1..n
func Bounds(tok string, n int) (lo, hi int, err error) {
	bad := func() (int, int, error) {
		return 0, 0, fmt.Errorf("%w: type range %q outside 1..%d", ErrIllegalArgs, tok, n)
	}
	star := strings.IndexByte(tok, '*')
	switch {
	case star < 0:
		v, perr := strconv.Atoi(tok)
		if perr != nil {
			return bad()
		}
		lo, hi = v, v
	case tok == "*":
		lo, hi = 1, n
	default:
		lo, hi = 1, n
		if star > 0 {
			if lo, err = strconv.Atoi(tok[:star]); err != nil {
				return bad()
			}
		}
		if star < len(tok)-1 {
			if hi, err = strconv.Atoi(tok[star+1:]); err != nil {
				return bad()
			}
		}
	}
	if lo < 1 || hi > n || lo > hi {
		return bad()
	}
	return lo, hi, nil
}

func parsePositive(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrIllegalArgs, name, s, err)
	}
	if !(v > 0) {
		return 0, fmt.Errorf("%w: %s must be positive, got %g", ErrIllegalArgs, name, v)
	}
	return v, nil
}

// Init checks every polarizable type pair is configured and fills the
// symmetric tables. It must run after the last Settings or Coeff call.
func (p *Pair) Init(st *atom.Store, roles *drude.RoleTable) error {
	if !p.configured {
		return fmt.Errorf("%w: settings never given", ErrIllegalArgs)
	}
	if st.NTypes != p.NTypes || roles.NTypes() != p.NTypes {
		return fmt.Errorf("thole: pair has %d types, store %d, role table %d",
			p.NTypes, st.NTypes, roles.NTypes())
	}
	for i := 1; i <= p.NTypes; i++ {
		for j := i; j <= p.NTypes; j++ {
			if roles.Of(i).Polarizable() && roles.Of(j).Polarizable() && !p.setflag[i][j] {
				return fmt.Errorf("%w: types %d %d", ErrCoeffNotSet, i, j)
			}
		}
	}
	cutmax := 0.0
	for i := 1; i <= p.NTypes; i++ {
		for j := i; j <= p.NTypes; j++ {
			cutmax = math.Max(cutmax, p.InitOne(i, j))
		}
	}
	p.initialized = true
	p.Logger.Info("thole pair initialized",
		zap.Int("ntypes", p.NTypes),
		zap.Float64("cutmax", cutmax),
		zap.Float64("qqrd2e", p.QQRD2E))
	return nil
}

// InitOne fills the (i,j) and (j,i) entries and returns the pair cutoff.
// An unset pair takes its cutoff from the diagonal entries by MixFlag.
func (p *Pair) InitOne(i, j int) float64 {
	if !p.setflag[i][j] {
		p.cut[i][j] = p.MixFlag.Distance(p.cut[i][i], p.cut[j][j])
	}
	p.polar[j][i] = p.polar[i][j]
	p.thole[j][i] = p.thole[i][j]
	p.scale[j][i] = p.scale[i][j]
	p.cut[j][i] = p.cut[i][j]
	p.cutsq[i][j] = p.cut[i][j] * p.cut[i][j]
	p.cutsq[j][i] = p.cutsq[i][j]
	return p.cut[i][j]
}

// MaxCutoff is the largest pair cutoff after Init
func (p *Pair) MaxCutoff() float64 {
	cutmax := 0.0
	for i := 1; i <= p.NTypes; i++ {
		for j := i; j <= p.NTypes; j++ {
			cutmax = math.Max(cutmax, p.cut[i][j])
		}
	}
	return cutmax
}

// IsSet reports whether Coeff configured the type pair
func (p *Pair) IsSet(i, j int) bool {
	if i > j {
		i, j = j, i
	}
	return p.setflag[i][j]
}

// Coefficients returns polar, thole and cutoff for a type pair
func (p *Pair) Coefficients(i, j int) (polar, thole, cut float64) {
	if i > j {
		i, j = j, i
	}
	return p.polar[i][j], p.thole[i][j], p.cut[i][j]
}

// Extract returns a copy of a coefficient table by name. The second return
// is the table's dimension, 0 for unknown names.
func (p *Pair) Extract(name string) ([][]float64, int) {
	switch name {
	case "scale":
		return copyTable(p.scale), 2
	case "polar":
		return copyTable(p.polar), 2
	case "thole":
		return copyTable(p.thole), 2
	}
	return nil, 0
}

func copyTable(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i := range src {
		out[i] = append([]float64(nil), src[i]...)
	}
	return out
}

// SetScale sets the energy and force prefactor of type pair i, j
func (p *Pair) SetScale(i, j int, v float64) error {
	if i < 1 || j < 1 || i > p.NTypes || j > p.NTypes {
		return fmt.Errorf("%w: type pair %d %d outside 1..%d", ErrIllegalArgs, i, j, p.NTypes)
	}
	p.scale[i][j], p.scale[j][i] = v, v
	return nil
}
