package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
)

func TestSingleDataRoundTrip(t *testing.T) {
	cases := []*SingleData{
		{ID_: nil, Payload: make([]byte, 10)},
		{ID_: func() *tick.MessageId { id := tick.MessageId(1); return &id }(), Payload: make([]byte, 10)},
	}
	for _, c := range cases {
		buf := c.Encode(nil)
		require.Len(t, buf, c.Len())

		decoded, n, err := DecodeSingleData(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, c.Payload, decoded.Payload)
		if c.ID_ != nil {
			require.NotNil(t, decoded.ID_)
			require.Equal(t, *c.ID_, *decoded.ID_)
		} else {
			require.Nil(t, decoded.ID_)
		}
	}
}

func TestFragmentDataRoundTrip(t *testing.T) {
	f := &FragmentData{
		MessageID:    tick.MessageId(0),
		FragmentID:   2,
		NumFragments: 3,
		Payload:      make([]byte, 10),
	}
	buf := f.Encode(nil)
	require.Len(t, buf, f.Len())
	require.True(t, f.IsLast())

	decoded, n, err := DecodeFragmentData(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, f, decoded)
}

func TestFragmentDataRejectsBadIndex(t *testing.T) {
	f := &FragmentData{MessageID: 1, FragmentID: 3, NumFragments: 3, Payload: []byte{1}}
	buf := f.Encode(nil)
	_, _, err := DecodeFragmentData(buf)
	require.ErrorIs(t, err, ErrBadFragment)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{PacketID: 7, Ack: 5, AckBits: 0xdeadbeef, Tick: 42, PacketType: PacketTypeDataFragment}
	buf := h.Encode(nil)
	require.Len(t, buf, HeaderLen)

	decoded, n, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, HeaderLen, n)
	require.Equal(t, h, decoded)
}

func TestHeaderRejectsUnknownType(t *testing.T) {
	h := Header{PacketType: 99}
	buf := h.Encode(nil)
	_, _, err := DecodeHeader(buf)
	require.ErrorIs(t, err, ErrUnknownHeader)
}

func TestDataBlocksRoundTrip(t *testing.T) {
	id := tick.MessageId(3)
	blocks := []ChannelBlock{
		{Channel: 1, Data: []*SingleData{{ID_: &id, Payload: []byte("hello")}}},
		{Channel: 2, Data: []*SingleData{{Payload: []byte("a")}, {Payload: []byte("b")}}},
	}
	buf := EncodeDataBlocks(nil, blocks)
	decoded, err := DecodeDataBlocks(buf)
	require.NoError(t, err)
	require.Equal(t, blocks, decoded)
}

func TestDataFragmentPayloadRoundTrip(t *testing.T) {
	p := DataFragmentPayload{
		Channel:  5,
		Fragment: &FragmentData{MessageID: 9, FragmentID: 0, NumFragments: 2, Payload: []byte("xyz")},
	}
	buf := p.Encode(nil)
	decoded, err := DecodeDataFragmentPayload(buf)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}
