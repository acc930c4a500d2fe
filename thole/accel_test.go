package thole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DrudeKernel/utils"
)

func TestAccelerator_MatchesHost(t *testing.T) {
	device, err := utils.CreateDevice(nil, `{"mode": "Serial"}`)
	if err != nil {
		t.Skipf("no OCCA device: %v", err)
	}
	defer device.Free()

	acc, err := NewAccelerator(device)
	require.NoError(t, err)
	defer acc.Free()

	sys := singleRank(t, twoDimers())
	p := newTestPair(t)
	require.NoError(t, p.Init(sys.Store, sys.Roles))

	host := compute(t, p, sys, true)
	hostF := append([][3]float64(nil), sys.Store.F[:sys.Store.NLocal]...)

	p.Device = acc
	dev := compute(t, p, sys, true)
	assert.InDelta(t, host.Energy, dev.Energy, 1e-12)
	for k := range host.Virial {
		assert.InDelta(t, host.Virial[k], dev.Virial[k], 1e-12)
	}
	for i, f := range hostF {
		for d := 0; d < 3; d++ {
			assert.InDelta(t, f[d], sys.Store.F[i][d], 1e-12)
		}
	}

	var empty batch
	require.NoError(t, acc.Evaluate(&empty))
	assert.Empty(t, empty.fpair)
}
