package drude

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// RebuildSpecial rewrites the special neighbor lists of owned atoms so that
// Drudes stand in for their cores:
//
//   - every Drude tag is removed from every list,
//   - an atom listing a core at some level also lists its Drude at that
//     level, and each core lists its own Drude as 1-2,
//   - each Drude receives its core's lists, with the core as 1-2 in place
//     of itself.
//
// Each step is one ring circuit, since the atoms holding a list and the
// cores it names may be owned anywhere. Partners must already be built.
func (b *Builder) RebuildSpecial(ctx context.Context) error {
	st, pm := b.Store, b.Partners

	drudes := &Message{Kind: KindRemoveDrudes}
	links := &Message{Kind: KindAddDrudes}
	for i := 0; i < st.NLocal; i++ {
		switch b.Role(i) {
		case Drude:
			drudes.Drudes = append(drudes.Drudes, st.Tag[i])
		case Core:
			if p := pm.Partner(i); p != 0 {
				links.Links = append(links.Links, Link{Core: st.Tag[i], Drude: p})
			}
		}
	}

	err := b.circulate(ctx, drudes, func(_ int, m *Message) {
		remove := make(map[int64]bool, len(m.Drudes))
		for _, t := range m.Drudes {
			remove[t] = true
		}
		for i := 0; i < st.NLocal; i++ {
			for l := range st.Special[i] {
				st.Special[i][l] = slices.DeleteFunc(st.Special[i][l], func(t int64) bool { return remove[t] })
			}
		}
	}, noFaults)
	if err != nil {
		return fmt.Errorf("rebuild special, remove drudes: %w", err)
	}

	err = b.circulate(ctx, links, func(_ int, m *Message) {
		drudeOf := make(map[int64]int64, len(m.Links))
		for _, l := range m.Links {
			drudeOf[l.Core] = l.Drude
		}
		for i := 0; i < st.NLocal; i++ {
			sp := &st.Special[i]
			for l := range sp {
				for _, t := range sp[l] {
					if d, ok := drudeOf[t]; ok && d != st.Tag[i] && sp.Level(d) == 0 {
						sp[l] = append(sp[l], d)
					}
				}
			}
			if d, ok := drudeOf[st.Tag[i]]; ok && sp.Level(d) == 0 {
				sp[0] = append([]int64{d}, sp[0]...)
			}
		}
	}, noFaults)
	if err != nil {
		return fmt.Errorf("rebuild special, add drudes: %w", err)
	}

	copies := &Message{Kind: KindCopySpecial}
	for i := 0; i < st.NLocal; i++ {
		if b.Role(i) != Core || pm.Partner(i) == 0 {
			continue
		}
		copies.Copies = append(copies.Copies, SpecialCopy{
			Link:    Link{Core: st.Tag[i], Drude: pm.Partner(i)},
			Special: st.Special[i].Clone(),
		})
	}

	err = b.circulate(ctx, copies, func(_ int, m *Message) {
		for _, c := range m.Copies {
			j := st.Map(c.Drude)
			if j < 0 || j >= st.NLocal {
				continue
			}
			sp := c.Special.Clone()
			for l := range sp {
				for k, t := range sp[l] {
					if t == c.Drude {
						sp[l][k] = c.Core
					}
				}
			}
			st.Special[j] = sp
		}
	}, noFaults)
	if err != nil {
		return fmt.Errorf("rebuild special, copy to drudes: %w", err)
	}

	b.Logger.Debug("special lists rebuilt",
		zap.Int("drudes", len(drudes.Drudes)), zap.Int("cores", len(links.Links)))
	return nil
}

func noFaults() error { return nil }
