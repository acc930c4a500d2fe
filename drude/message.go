package drude

import (
	"encoding/binary"
	"fmt"

	"github.com/notargets/DrudeKernel/atom"
)

// messageVersion is bumped whenever the wire layout below changes
const messageVersion = 1

// Kind selects which ring pass a message belongs to
type Kind uint8

const (
	KindPartnerQuery Kind = iota + 1
	KindVerify
	KindRemoveDrudes
	KindAddDrudes
	KindCopySpecial
)

func (k Kind) String() string {
	switch k {
	case KindPartnerQuery:
		return "partner-query"
	case KindVerify:
		return "verify"
	case KindRemoveDrudes:
		return "remove-drudes"
	case KindAddDrudes:
		return "add-drudes"
	case KindCopySpecial:
		return "copy-special"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Query asks the ring for the partner of one polarizable atom
type Query struct {
	Tag  int64
	Role Role

	// Partner is 0 until a process resolves the query
	Partner int64

	// Candidates are the bond partners recorded on the atom itself
	Candidates []int64
}

// Link is one resolved core/Drude pair
type Link struct {
	Core, Drude int64
}

// SpecialCopy carries a core's special lists to the owner of its Drude
type SpecialCopy struct {
	Link
	Special atom.Special
}

// Message is the typed payload circulated by the builder's ring passes.
// Only the section matching Kind is populated.
type Message struct {
	Kind    Kind
	Queries []Query
	Drudes  []int64
	Links   []Link
	Copies  []SpecialCopy
}

// MarshalBinary encodes m as version, kind, then four length-prefixed
// sections of varints
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := []byte{messageVersion, byte(m.Kind)}

	buf = binary.AppendUvarint(buf, uint64(len(m.Queries)))
	for _, q := range m.Queries {
		buf = binary.AppendVarint(buf, q.Tag)
		buf = append(buf, byte(q.Role))
		buf = binary.AppendVarint(buf, q.Partner)
		buf = appendTags(buf, q.Candidates)
	}

	buf = appendTags(buf, m.Drudes)

	buf = binary.AppendUvarint(buf, uint64(len(m.Links)))
	for _, l := range m.Links {
		buf = binary.AppendVarint(buf, l.Core)
		buf = binary.AppendVarint(buf, l.Drude)
	}

	buf = binary.AppendUvarint(buf, uint64(len(m.Copies)))
	for _, c := range m.Copies {
		buf = binary.AppendVarint(buf, c.Core)
		buf = binary.AppendVarint(buf, c.Drude)
		for l := range c.Special {
			buf = appendTags(buf, c.Special[l])
		}
	}
	return buf, nil
}

func appendTags(buf []byte, tags []int64) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(tags)))
	for _, t := range tags {
		buf = binary.AppendVarint(buf, t)
	}
	return buf
}

// UnmarshalBinary decodes a message produced by MarshalBinary
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: %d byte header", ErrMalformedMessage, len(data))
	}
	if data[0] != messageVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrMalformedMessage, data[0], messageVersion)
	}
	r := &reader{buf: data[2:]}
	*m = Message{Kind: Kind(data[1])}

	if n := r.count(); n > 0 {
		m.Queries = make([]Query, n)
		for i := range m.Queries {
			q := &m.Queries[i]
			q.Tag = r.varint()
			q.Role = Role(r.readByte())
			q.Partner = r.varint()
			q.Candidates = r.tags()
		}
	}

	m.Drudes = r.tags()

	if n := r.count(); n > 0 {
		m.Links = make([]Link, n)
		for i := range m.Links {
			m.Links[i] = Link{Core: r.varint(), Drude: r.varint()}
		}
	}

	if n := r.count(); n > 0 {
		m.Copies = make([]SpecialCopy, n)
		for i := range m.Copies {
			c := &m.Copies[i]
			c.Core = r.varint()
			c.Drude = r.varint()
			for l := range c.Special {
				c.Special[l] = r.tags()
			}
		}
	}

	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(r.buf))
	}
	return nil
}

// reader decodes varints and remembers the first failure
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated %s", ErrMalformedMessage, what)
	}
	r.buf = nil
}

func (r *reader) varint() int64 {
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail("varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) count() int {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 || v > uint64(len(r.buf)) {
		// every element takes at least one byte
		r.fail("count")
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

func (r *reader) readByte() byte {
	if len(r.buf) == 0 {
		r.fail("role")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) tags() []int64 {
	n := r.count()
	if n == 0 {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = r.varint()
	}
	return out
}
