package thole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/drude"
)

func TestBounds(t *testing.T) {
	tests := []struct {
		tok     string
		lo, hi  int
		wantErr bool
	}{
		{tok: "2", lo: 2, hi: 2},
		{tok: "*", lo: 1, hi: 4},
		{tok: "2*", lo: 2, hi: 4},
		{tok: "*3", lo: 1, hi: 3},
		{tok: "2*3", lo: 2, hi: 3},
		{tok: "0", wantErr: true},
		{tok: "5", wantErr: true},
		{tok: "3*2", wantErr: true},
		{tok: "*9", wantErr: true},
		{tok: "a*", wantErr: true},
		{tok: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.tok, func(t *testing.T) {
			lo, hi, err := Bounds(tc.tok, 4)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrIllegalArgs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.lo, lo)
			assert.Equal(t, tc.hi, hi)
		})
	}
}

func TestSettingsAndCoeff_Errors(t *testing.T) {
	p := NewPair(3, nil)
	assert.ErrorIs(t, p.Coeff([]string{"1", "1", "1.0"}), ErrIllegalArgs, "coeff before settings")

	for _, args := range [][]string{nil, {"2.6"}, {"2.6", "10", "1"}, {"x", "10"}, {"2.6", "-1"}} {
		assert.ErrorIs(t, p.Settings(args), ErrIllegalArgs, "settings %v", args)
	}
	require.NoError(t, p.Settings([]string{"2.6", "10"}))

	for _, args := range [][]string{
		{"1", "1"},
		{"1", "1", "1", "2", "3", "4"},
		{"1", "1", "0"},
		{"1", "1", "abc"},
		{"4", "1", "1.0"},
		{"2", "1", "1.0"}, // selects no pair with I <= J
		{"1", "1", "1.0", "-2"},
	} {
		assert.ErrorIs(t, p.Coeff(args), ErrIllegalArgs, "coeff %v", args)
	}
}

func TestCoeff_RangeAndDefaults(t *testing.T) {
	p := NewPair(3, nil)
	require.NoError(t, p.Settings([]string{"2.6", "10"}))
	require.NoError(t, p.Coeff([]string{"1*2", "*", "1.5"}))
	require.NoError(t, p.Coeff([]string{"3", "3", "0.8", "1.9", "7"}))

	for _, ij := range [][2]int{{1, 1}, {1, 2}, {1, 3}, {2, 2}, {2, 3}} {
		assert.True(t, p.IsSet(ij[0], ij[1]), "%v", ij)
		polar, th, cut := p.Coefficients(ij[0], ij[1])
		assert.Equal(t, 1.5, polar)
		assert.Equal(t, 2.6, th)
		assert.Equal(t, 10.0, cut)
	}
	polar, th, cut := p.Coefficients(3, 3)
	assert.Equal(t, []float64{0.8, 1.9, 7}, []float64{polar, th, cut})
	assert.True(t, p.IsSet(2, 1), "lookup is symmetric")
}

func TestSettings_ResetsSetPairs(t *testing.T) {
	p := NewPair(2, nil)
	require.NoError(t, p.Settings([]string{"2.6", "10"}))
	require.NoError(t, p.Coeff([]string{"1", "1", "1.0", "1.1", "5"}))
	require.NoError(t, p.Coeff([]string{"1", "2", "2.0", "1.2", "6"}))

	require.NoError(t, p.Settings([]string{"3.0", "8"}))
	for _, ij := range [][2]int{{1, 1}, {1, 2}} {
		polar, th, cut := p.Coefficients(ij[0], ij[1])
		assert.Equal(t, 3.0, th)
		assert.Equal(t, 8.0, cut)
		assert.NotZero(t, polar, "polarizability is kept")
	}
	assert.False(t, p.IsSet(2, 2))
}

func rolesCDN(t *testing.T) *drude.RoleTable {
	rt, err := drude.ParseRoleTable(3, []string{"C", "D", "N"})
	require.NoError(t, err)
	return rt
}

func TestInit(t *testing.T) {
	st := atom.NewStore(3, atom.NewPeriodicBox(20, 20, 20))

	t.Run("unset polarizable pair", func(t *testing.T) {
		p := NewPair(3, nil)
		require.NoError(t, p.Settings([]string{"2.6", "10"}))
		require.NoError(t, p.Coeff([]string{"1", "1", "1.0"}))
		require.NoError(t, p.Coeff([]string{"2", "2", "1.0"}))
		assert.ErrorIs(t, p.Init(st, rolesCDN(t)), ErrCoeffNotSet)
	})

	t.Run("non-polarizable pairs may stay unset", func(t *testing.T) {
		p := NewPair(3, nil)
		require.NoError(t, p.Settings([]string{"2.6", "10"}))
		require.NoError(t, p.Coeff([]string{"1*2", "1*2", "1.0"}))
		require.NoError(t, p.Init(st, rolesCDN(t)))
		assert.Equal(t, 10.0, p.MaxCutoff())
	})

	t.Run("type count mismatch", func(t *testing.T) {
		p := NewPair(2, nil)
		require.NoError(t, p.Settings([]string{"2.6", "10"}))
		assert.Error(t, p.Init(st, rolesCDN(t)))
	})

	t.Run("no settings", func(t *testing.T) {
		assert.ErrorIs(t, NewPair(3, nil).Init(st, rolesCDN(t)), ErrIllegalArgs)
	})
}

func TestInitOne_Mixing(t *testing.T) {
	tests := []struct {
		mix  MixRule
		want float64
	}{
		{Geometric, 6},
		{Arithmetic, 6.5},
		{SixthPower, 8.0283552},
	}
	for _, tc := range tests {
		p := NewPair(2, nil)
		p.MixFlag = tc.mix
		require.NoError(t, p.Settings([]string{"2.6", "10"}))
		require.NoError(t, p.Coeff([]string{"1", "1", "1.0", "2.6", "4"}))
		require.NoError(t, p.Coeff([]string{"2", "2", "1.0", "2.6", "9"}))
		assert.InDelta(t, tc.want, p.InitOne(1, 2), 1e-6, "mix %d", tc.mix)
		_, _, cut := p.Coefficients(2, 1)
		assert.InDelta(t, tc.want, cut, 1e-6)
	}
}

func TestExtract(t *testing.T) {
	p := NewPair(2, nil)
	require.NoError(t, p.Settings([]string{"2.6", "10"}))
	require.NoError(t, p.Coeff([]string{"*", "*", "1.2"}))

	scale, dim := p.Extract("scale")
	assert.Equal(t, 2, dim)
	assert.Equal(t, 1.0, scale[1][2])
	scale[1][2] = 0.5
	assert.Equal(t, 1.0, p.scale[1][2], "extracted table is a copy")

	require.NoError(t, p.SetScale(2, 1, 0.25))
	scale, _ = p.Extract("scale")
	assert.Equal(t, 0.25, scale[1][2])
	assert.Equal(t, 0.25, scale[2][1])
	assert.ErrorIs(t, p.SetScale(0, 3, 1), ErrIllegalArgs)

	polar, dim := p.Extract("polar")
	assert.Equal(t, 2, dim)
	assert.Equal(t, 1.2, polar[2][2])

	_, dim = p.Extract("thole")
	assert.Equal(t, 2, dim)

	tbl, dim := p.Extract("epsilon")
	assert.Nil(t, tbl)
	assert.Zero(t, dim)
}

func TestParseMixRule(t *testing.T) {
	m, err := ParseMixRule("Arithmetic")
	require.NoError(t, err)
	assert.Equal(t, Arithmetic, m)
	_, err = ParseMixRule("harmonic")
	assert.ErrorIs(t, err, ErrIllegalArgs)

	for _, rule := range []MixRule{Geometric, Arithmetic, SixthPower} {
		back, err := ParseMixRule(rule.String())
		require.NoError(t, err)
		assert.Equal(t, rule, back)
	}
}
