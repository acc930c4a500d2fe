package drude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DrudeKernel/atom"
)

func TestMessage_RoundTrip(t *testing.T) {
	in := &Message{
		Kind: KindPartnerQuery,
		Queries: []Query{
			{Tag: 7, Role: Core, Candidates: []int64{8, 1 << 40}},
			{Tag: 12, Role: Drude, Partner: 11},
		},
		Drudes: []int64{2, 4},
		Links:  []Link{{Core: 1, Drude: 2}},
		Copies: []SpecialCopy{{Link: Link{Core: 3, Drude: 4}, Special: atom.Special{{4, 1}, nil, {9}}}},
	}
	buf, err := in.MarshalBinary()
	require.NoError(t, err)

	var out Message
	require.NoError(t, out.UnmarshalBinary(buf))
	assert.Equal(t, *in, out)
}

func TestMessage_Rejects(t *testing.T) {
	buf, err := (&Message{Kind: KindVerify, Links: []Link{{Core: 1, Drude: 2}}}).MarshalBinary()
	require.NoError(t, err)

	var m Message
	assert.ErrorIs(t, m.UnmarshalBinary(buf[:1]), ErrMalformedMessage)
	assert.ErrorIs(t, m.UnmarshalBinary(buf[:len(buf)-2]), ErrMalformedMessage)
	assert.ErrorIs(t, m.UnmarshalBinary(append(buf, 0)), ErrMalformedMessage)

	stale := append([]byte(nil), buf...)
	stale[0] = messageVersion + 1
	assert.ErrorIs(t, m.UnmarshalBinary(stale), ErrMalformedMessage)
}
