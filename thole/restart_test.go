package thole

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DrudeKernel/comm"
)

func configuredPair(t *testing.T) *Pair {
	p := NewPair(3, nil)
	p.MixFlag = Arithmetic
	p.OffsetFlag = 1
	require.NoError(t, p.Settings([]string{"2.6", "10"}))
	require.NoError(t, p.Coeff([]string{"1", "*", "1.1"}))
	require.NoError(t, p.Coeff([]string{"2", "2", "0.9", "1.3", "6.5"}))
	return p
}

func TestRestart_Layout(t *testing.T) {
	p := configuredPair(t)
	var buf bytes.Buffer
	require.NoError(t, p.WriteRestart(&buf))

	// 2 f64 + 2 i32 globals, 6 set flags, 4 set pairs of 3 f64
	assert.Equal(t, 16+8+6*4+4*24, buf.Len())

	var th, cut float64
	var offset, mix, set11 int32
	var polar11 float64
	for _, v := range []any{&th, &cut, &offset, &mix, &set11, &polar11} {
		require.NoError(t, binary.Read(&buf, binary.NativeEndian, v))
	}
	assert.Equal(t, 2.6, th)
	assert.Equal(t, 10.0, cut)
	assert.Equal(t, int32(1), offset)
	assert.Equal(t, int32(Arithmetic), mix)
	assert.Equal(t, int32(1), set11)
	assert.Equal(t, 1.1, polar11)
}

func TestRestart_RoundTripAcrossRanks(t *testing.T) {
	src := configuredPair(t)
	var file bytes.Buffer
	require.NoError(t, src.WriteRestart(&file))

	const nranks = 3
	comms := comm.NewChanWorld(nranks, nil)
	pairs := make([]*Pair, nranks)
	err := comm.Run(testContext(t), comms, func(ctx context.Context, c comm.Comm) error {
		p := NewPair(3, nil)
		var r io.Reader
		if c.Rank() == 0 {
			r = bytes.NewReader(file.Bytes())
		}
		pairs[c.Rank()] = p
		return p.ReadRestart(ctx, r, c)
	})
	require.NoError(t, err)

	for r, p := range pairs {
		assert.Equal(t, src.TholeGlobal, p.TholeGlobal, "rank %d", r)
		assert.Equal(t, src.CutGlobal, p.CutGlobal)
		assert.Equal(t, src.OffsetFlag, p.OffsetFlag)
		assert.Equal(t, src.MixFlag, p.MixFlag)
		for i := 1; i <= 3; i++ {
			for j := i; j <= 3; j++ {
				require.Equal(t, src.IsSet(i, j), p.IsSet(i, j), "rank %d pair %d %d", r, i, j)
				sp, st, sc := src.Coefficients(i, j)
				pp, pt, pc := p.Coefficients(i, j)
				assert.Equal(t, []float64{sp, st, sc}, []float64{pp, pt, pc})
			}
		}

		var again bytes.Buffer
		require.NoError(t, p.WriteRestart(&again))
		assert.Equal(t, file.Bytes(), again.Bytes(), "rank %d rewrites the same bytes", r)
	}
}

func TestRestart_Truncated(t *testing.T) {
	src := configuredPair(t)
	var file bytes.Buffer
	require.NoError(t, src.WriteRestart(&file))
	short := file.Bytes()[:file.Len()-5]

	const nranks = 2
	comms := comm.NewChanWorld(nranks, nil)
	errs := make([]error, nranks)
	_ = comm.Run(testContext(t), comms, func(ctx context.Context, c comm.Comm) error {
		var r io.Reader
		if c.Rank() == 0 {
			r = bytes.NewReader(short)
		}
		errs[c.Rank()] = NewPair(3, nil).ReadRestart(ctx, r, c)
		return nil
	})
	require.Error(t, errs[0])
	assert.True(t, errors.Is(errs[0], io.ErrUnexpectedEOF) || errors.Is(errs[0], io.EOF))
	assert.ErrorIs(t, errs[1], comm.ErrRemoteFailure)
}

func TestRestart_BadSetFlag(t *testing.T) {
	src := configuredPair(t)
	var file bytes.Buffer
	require.NoError(t, src.WriteRestart(&file))
	data := file.Bytes()
	// first set flag follows the globals
	binary.NativeEndian.PutUint32(data[24:], 7)

	err := NewPair(3, nil).decodeRestart(bytes.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad set flag 7")
}
