package drude

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/DrudeKernel/atom"
	"github.com/notargets/DrudeKernel/comm"
)

// Builder derives partner tags from bond topology and maintains the special
// neighbor lists that depend on them. All state is carried explicitly, so
// several independent builders can share one process.
type Builder struct {
	Comm     comm.Comm
	Store    *atom.Store
	Roles    *RoleTable
	Partners *PartnerMap
	Logger   *zap.Logger
}

// NewBuilder attaches a fresh PartnerMap to st
func NewBuilder(c comm.Comm, st *atom.Store, roles *RoleTable, logger *zap.Logger) (*Builder, error) {
	if roles.NTypes() != st.NTypes {
		return nil, fmt.Errorf("%w: role table covers %d types, store has %d",
			ErrBadRole, roles.NTypes(), st.NTypes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		Comm:     c,
		Store:    st,
		Roles:    roles,
		Partners: NewPartnerMap(st),
		Logger:   logger.With(zap.Int("rank", c.Rank())),
	}, nil
}

// Role returns the role of slot i
func (b *Builder) Role(i int) Role {
	return b.Roles.Of(b.Store.Type[i])
}

// Rebuild runs BuildPartners then RebuildSpecial. Call it after any event
// that changes bond topology or atom membership.
func (b *Builder) Rebuild(ctx context.Context) error {
	if err := b.BuildPartners(ctx); err != nil {
		return err
	}
	return b.RebuildSpecial(ctx)
}

// BuildPartners fills the partner tag of every owned polarizable atom.
//
// A local pass pairs atoms whose bond and both endpoints are owned here.
// Every polarizable atom still unpaired, or holding a bond to an atom owned
// elsewhere, then sends a query once around the ring. A process resolves a
// query when it owns a candidate of the complementary role, or owns an atom
// of the complementary role that records a bond to the queried tag, and it
// pairs both sides. The owner of every bond lies on the ring, so one circuit
// is enough; anything unpaired when the query returns home is fatal.
//
// Ghost slots keep stale partners until the next border exchange.
func (b *Builder) BuildPartners(ctx context.Context) error {
	st, pm := b.Store, b.Partners
	pm.Reset(st.NLocal)

	var faults []error
	assign := func(i int, partner int64) {
		switch cur := pm.Partner(i); {
		case cur == 0:
			pm.Set(i, partner)
		case cur != partner:
			faults = append(faults, &DuplicatePartnerError{Tag: st.Tag[i], First: cur, Second: partner})
		}
	}
	owned := func(tag int64) int {
		if j := st.Map(tag); j >= 0 && j < st.NLocal {
			return j
		}
		return -1
	}

	// bondedTo maps a tag to the owned polarizable slots recording a bond to it
	bondedTo := make(map[int64][]int)
	localPairs := 0
	for i := 0; i < st.NLocal; i++ {
		ri := b.Role(i)
		if !ri.Polarizable() {
			continue
		}
		for _, t := range st.Bonds[i] {
			bondedTo[t] = append(bondedTo[t], i)
			j := owned(t)
			if j < 0 || b.Role(j) != ri.Complement() {
				continue
			}
			if pm.Partner(i) == 0 {
				localPairs++
			}
			assign(i, t)
			assign(j, st.Tag[i])
		}
	}

	out := &Message{Kind: KindPartnerQuery}
	for i := 0; i < st.NLocal; i++ {
		ri := b.Role(i)
		if !ri.Polarizable() {
			continue
		}
		var remote []int64
		for _, t := range st.Bonds[i] {
			if owned(t) < 0 {
				remote = append(remote, t)
			}
		}
		if pm.Partner(i) != 0 && len(remote) == 0 {
			continue
		}
		out.Queries = append(out.Queries, Query{
			Tag:        st.Tag[i],
			Role:       ri,
			Partner:    pm.Partner(i),
			Candidates: remote,
		})
	}

	me := b.Comm.Rank()
	ringPairs := 0
	err := b.circulate(ctx, out, func(origin int, m *Message) {
		if origin == me {
			for _, q := range m.Queries {
				if q.Partner == 0 {
					faults = append(faults, &UnresolvedPartnerError{Tag: q.Tag, Role: q.Role})
					continue
				}
				i := owned(q.Tag)
				if pm.Partner(i) == 0 {
					ringPairs++
				}
				assign(i, q.Partner)
			}
			return
		}

		for k := range m.Queries {
			q := &m.Queries[k]
			want := q.Role.Complement()
			seen := make(map[int]bool)
			resolve := func(j int) {
				if j < 0 || seen[j] || b.Role(j) != want {
					return
				}
				seen[j] = true
				tag := st.Tag[j]
				if q.Partner != 0 && q.Partner != tag {
					faults = append(faults, &DuplicatePartnerError{Tag: q.Tag, First: q.Partner, Second: tag})
					return
				}
				q.Partner = tag
				assign(j, q.Tag)
			}
			for _, t := range q.Candidates {
				resolve(owned(t))
			}
			for _, j := range bondedTo[q.Tag] {
				resolve(j)
			}
		}
	}, func() error { return errors.Join(faults...) })
	if err != nil {
		return fmt.Errorf("build partners: %w", err)
	}

	b.Logger.Debug("partners built",
		zap.Int("queries", len(out.Queries)),
		zap.Int("local_pairs", localPairs),
		zap.Int("ring_pairs", ringPairs))
	return nil
}

// Verify checks, with one ring circuit, that every owned polarizable atom
// has a partner of the complementary role whose partner is the atom itself
func (b *Builder) Verify(ctx context.Context) error {
	st, pm := b.Store, b.Partners
	var faults []error

	out := &Message{Kind: KindVerify}
	for i := 0; i < st.NLocal; i++ {
		p := pm.Partner(i)
		switch b.Role(i) {
		case Core:
			out.Links = append(out.Links, Link{Core: st.Tag[i], Drude: p})
		case Drude:
			out.Links = append(out.Links, Link{Core: p, Drude: st.Tag[i]})
		default:
			if p != 0 {
				faults = append(faults, fmt.Errorf("%w: non-polarizable atom %d has partner %d",
					ErrInconsistentPartner, st.Tag[i], p))
			}
		}
	}

	check := func(tag, want int64, role Role) {
		j := st.Map(tag)
		if tag == 0 || j < 0 || j >= st.NLocal {
			return
		}
		if b.Role(j) != role || pm.Partner(j) != want {
			faults = append(faults, fmt.Errorf("%w: %s %d expected as partner of %d, has role %s and partner %d",
				ErrInconsistentPartner, role, tag, want, b.Role(j), pm.Partner(j)))
		}
	}

	me := b.Comm.Rank()
	err := b.circulate(ctx, out, func(origin int, m *Message) {
		for _, l := range m.Links {
			if origin == me && (l.Core == 0 || l.Drude == 0) {
				tag, role := l.Core, Core
				if tag == 0 {
					tag, role = l.Drude, Drude
				}
				faults = append(faults, &UnresolvedPartnerError{Tag: tag, Role: role})
				continue
			}
			check(l.Core, l.Drude, Core)
			check(l.Drude, l.Core, Drude)
		}
	}, func() error { return errors.Join(faults...) })
	if err != nil {
		return fmt.Errorf("verify partners: %w", err)
	}
	return nil
}

// circulate sends m once around the ring, decoding it for visit at every
// hop. Faults found along the way are gathered by result after the final
// hop, and every rank fails if any rank does.
func (b *Builder) circulate(ctx context.Context, m *Message, visit func(origin int, m *Message), result func() error) error {
	buf, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	home, err := comm.Ring(ctx, b.Comm, buf, func(origin int, in []byte) ([]byte, error) {
		var msg Message
		if err := msg.UnmarshalBinary(in); err != nil {
			return nil, err
		}
		if msg.Kind != m.Kind {
			return nil, fmt.Errorf("%w: %s message during %s pass", ErrMalformedMessage, msg.Kind, m.Kind)
		}
		visit(origin, &msg)
		b.Logger.Debug("ring hop", zap.Stringer("kind", msg.Kind), zap.Int("origin", origin))
		return msg.MarshalBinary()
	})
	if home == nil && err != nil {
		// transport failure, peers unwind through the shared context
		return err
	}
	if err == nil {
		err = result()
	}
	return comm.AgreeOnError(ctx, b.Comm, err)
}
