package packetbuilder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/ackmgr"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

func headerFunc(m *ackmgr.Manager, t tick.Tick) HeaderFunc {
	return func(pt wire.PacketType) wire.Header {
		return m.Header(time.Unix(0, 0), t, pt)
	}
}

func TestBuildSmallMessagesGroupedByChannel(t *testing.T) {
	m := ackmgr.NewManager(ackmgr.Config{})
	queues := []ChannelQueue{
		{Channel: 1, Singles: []wire.SendMessage{{Data: &wire.SingleData{Payload: []byte("a")}}}},
		{Channel: 2, Singles: []wire.SendMessage{{Data: &wire.SingleData{Payload: []byte("b")}}}},
	}
	packets := Build(headerFunc(m, 5), queues)
	require.Len(t, packets, 1)
	require.Equal(t, wire.PacketTypeData, packets[0].Header.PacketType)

	hdr, n, err := wire.DecodeHeader(packets[0].Payload)
	require.NoError(t, err)
	require.Equal(t, tick.Tick(5), hdr.Tick)

	blocks, err := wire.DecodeDataBlocks(packets[0].Payload[n:])
	require.NoError(t, err)
	require.Len(t, blocks, 2)
}

func TestBuildFragmentsOversizedMessage(t *testing.T) {
	m := ackmgr.NewManager(ackmgr.Config{})
	big := make([]byte, FragmentSize*2+10)
	id := tick.MessageId(7)
	queues := []ChannelQueue{
		{Channel: 3, Singles: []wire.SendMessage{{Data: &wire.SingleData{ID_: &id, Payload: big}}}},
	}
	packets := Build(headerFunc(m, 1), queues)
	require.Len(t, packets, 3)
	for i, p := range packets {
		require.Equal(t, wire.PacketTypeDataFragment, p.Header.PacketType)
		_, n, err := wire.DecodeHeader(p.Payload)
		require.NoError(t, err)
		body, err := wire.DecodeDataFragmentPayload(p.Payload[n:])
		require.NoError(t, err)
		require.Equal(t, id, body.Fragment.MessageID)
		require.Equal(t, tick.FragmentIndex(i), body.Fragment.FragmentID)
		require.Equal(t, tick.FragmentIndex(3), body.Fragment.NumFragments)
	}
	require.True(t, packets[2].Acks[0].Ack.FragmentID != nil)
}

func TestBuildSplitsOnMTUOverflow(t *testing.T) {
	m := ackmgr.NewManager(ackmgr.Config{})
	var singles []wire.SendMessage
	for i := 0; i < 20; i++ {
		singles = append(singles, wire.SendMessage{Data: &wire.SingleData{Payload: make([]byte, 100)}})
	}
	queues := []ChannelQueue{{Channel: 1, Singles: singles}}
	packets := Build(headerFunc(m, 1), queues)
	require.Greater(t, len(packets), 1)
	for _, p := range packets {
		require.LessOrEqual(t, len(p.Payload), MTUPayloadBytes+wire.HeaderLen)
	}
}
