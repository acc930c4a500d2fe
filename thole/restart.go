package thole

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/notargets/DrudeKernel/comm"
)

// restart files are written in the host's native byte order
var order = binary.NativeEndian

// WriteRestart writes the global settings followed by every i <= j type
// pair: a set flag and, when set, polar, thole and cutoff
func (p *Pair) WriteRestart(w io.Writer) error {
	var buf []byte
	putF := func(v float64) { buf = order.AppendUint64(buf, math.Float64bits(v)) }
	putI := func(v int32) { buf = order.AppendUint32(buf, uint32(v)) }

	putF(p.TholeGlobal)
	putF(p.CutGlobal)
	putI(p.OffsetFlag)
	putI(int32(p.MixFlag))
	for i := 1; i <= p.NTypes; i++ {
		for j := i; j <= p.NTypes; j++ {
			var set int32
			if p.setflag[i][j] {
				set = 1
			}
			putI(set)
			if set == 1 {
				putF(p.polar[i][j])
				putF(p.thole[i][j])
				putF(p.cut[i][j])
			}
		}
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("thole: write restart: %w", err)
	}
	return nil
}

// ReadRestart restores settings and coefficients. Rank 0 reads r, which
// may be nil elsewhere, and broadcasts the payload to every rank.
func (p *Pair) ReadRestart(ctx context.Context, r io.Reader, c comm.Comm) error {
	var payload []byte
	var rerr error
	if c.Rank() == 0 {
		// decode into a scratch table so a short file is caught before the
		// broadcast, then re-encode exactly the bytes consumed
		scratch := NewPair(p.NTypes, nil)
		if rerr = scratch.decodeRestart(r); rerr == nil {
			var buf bytes.Buffer
			if rerr = scratch.WriteRestart(&buf); rerr == nil {
				payload = buf.Bytes()
			}
		}
	}
	if err := comm.AgreeOnError(ctx, c, rerr); err != nil {
		return fmt.Errorf("thole: read restart: %w", err)
	}
	payload, err := c.Bcast(ctx, 0, payload)
	if err != nil {
		return fmt.Errorf("thole: broadcast restart: %w", err)
	}
	if err := p.decodeRestart(bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("thole: read restart: %w", err)
	}
	p.Logger.Debug("thole restart applied", zap.Int("bytes", len(payload)))
	return nil
}

func (p *Pair) decodeRestart(r io.Reader) error {
	if r == nil {
		return fmt.Errorf("no restart stream")
	}
	var err error
	get := func(v any) {
		if err == nil {
			err = binary.Read(r, order, v)
		}
	}

	var th, cut float64
	var offset, mix int32
	get(&th)
	get(&cut)
	get(&offset)
	get(&mix)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if mix < int32(Geometric) || mix > int32(SixthPower) {
		return fmt.Errorf("unknown mix rule %d", mix)
	}
	p.TholeGlobal, p.CutGlobal, p.OffsetFlag, p.MixFlag = th, cut, offset, MixRule(mix)

	for i := 1; i <= p.NTypes; i++ {
		for j := i; j <= p.NTypes; j++ {
			var set int32
			get(&set)
			if err == nil && set != 0 && set != 1 {
				return fmt.Errorf("coefficients %d %d: bad set flag %d", i, j, set)
			}
			p.setflag[i][j] = set == 1
			if set == 1 {
				get(&p.polar[i][j])
				get(&p.thole[i][j])
				get(&p.cut[i][j])
				p.scale[i][j] = 1
			}
			if err != nil {
				return fmt.Errorf("coefficients %d %d: %w", i, j, err)
			}
		}
	}
	p.configured = true
	p.initialized = false
	return nil
}
