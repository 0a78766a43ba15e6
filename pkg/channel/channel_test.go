package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	s, ok := r.ByKind(KindEntityActions)
	require.True(t, ok)
	require.Equal(t, ModeOrderedReliable, s.Mode)

	s2, ok := r.ByID(s.ID)
	require.True(t, ok)
	require.Equal(t, KindEntityActions, s2.Kind)
}

func TestSequencedReceiverDropsStragglers(t *testing.T) {
	recv := newSequencedReceiver()
	id0, id1, id2 := tick.MessageId(0), tick.MessageId(1), tick.MessageId(2)

	recv.Receive(&wire.SingleData{ID_: &id1, Payload: []byte("b")}, 0)
	recv.Receive(&wire.SingleData{ID_: &id0, Payload: []byte("a")}, 0) // straggler, dropped
	recv.Receive(&wire.SingleData{ID_: &id2, Payload: []byte("c")}, 0)

	msgs := recv.Drain()
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("b"), msgs[0].Data.Bytes())
	require.Equal(t, []byte("c"), msgs[1].Data.Bytes())
}

func TestOrderedReliableReceiverGaplessRelease(t *testing.T) {
	recv := newOrderedReliableReceiver()
	id0, id1, id2 := tick.MessageId(0), tick.MessageId(1), tick.MessageId(2)

	recv.Receive(&wire.SingleData{ID_: &id1, Payload: []byte("b")}, 0)
	require.Empty(t, recv.Drain(), "id1 blocked behind missing id0")

	recv.Receive(&wire.SingleData{ID_: &id2, Payload: []byte("c")}, 0)
	require.Empty(t, recv.Drain())

	recv.Receive(&wire.SingleData{ID_: &id0, Payload: []byte("a")}, 0)
	msgs := recv.Drain()
	require.Len(t, msgs, 3)
	require.Equal(t, []byte("a"), msgs[0].Data.Bytes())
	require.Equal(t, []byte("b"), msgs[1].Data.Bytes())
	require.Equal(t, []byte("c"), msgs[2].Data.Bytes())
}

func TestOrderedReliableSenderRetransmitsOnLoss(t *testing.T) {
	s := newOrderedReliableSender(DefaultReliableConfig)
	id := s.Buffer(0, []byte("hi"), 1.0)
	require.NotNil(t, id)

	singles, _ := s.SendPacket()
	require.Len(t, singles, 1)
	require.Equal(t, 1, s.PendingCount())

	// Not sent again until notified lost.
	singles, _ = s.SendPacket()
	require.Empty(t, singles)

	s.NotifyLost(wire.MessageAck{MessageID: *id})
	singles, _ = s.SendPacket()
	require.Len(t, singles, 1)

	s.ReceiveAck(wire.MessageAck{MessageID: *id})
	require.Equal(t, 0, s.PendingCount())

	// Late loss notification after ack is a no-op.
	s.NotifyLost(wire.MessageAck{MessageID: *id})
	singles, _ = s.SendPacket()
	require.Empty(t, singles)
}

func TestUnorderedUnreliableSenderNeverRetransmits(t *testing.T) {
	s := newUnorderedUnreliableSender()
	id := s.Buffer(0, []byte("x"), 1.0)
	require.Nil(t, id)

	s.NotifyLost(wire.MessageAck{})
	singles, _ := s.SendPacket()
	require.Len(t, singles, 1)

	singles, _ = s.SendPacket()
	require.Empty(t, singles)
}

func TestTickBufferedReceiverWithholdsUntilReleaseTick(t *testing.T) {
	recv := newTickBufferedReceiver()

	recv.Receive(&wire.SingleData{Payload: []byte("t10")}, 10)
	recv.Receive(&wire.SingleData{Payload: []byte("t11")}, 11)

	require.Empty(t, recv.Drain(), "nothing released before the tick-manager sets a release tick")

	recv.SetReleaseTick(10)
	msgs := recv.Drain()
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("t10"), msgs[0].Data.Bytes())
	require.Equal(t, tick.Tick(10), msgs[0].RemoteSentTick)

	require.Empty(t, recv.Drain(), "tick 10 already drained, tick 11 not yet released")

	recv.SetReleaseTick(11)
	msgs = recv.Drain()
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("t11"), msgs[0].Data.Bytes())
}

func TestTickBufferedReceiverReleasesSkippedTicksTogether(t *testing.T) {
	recv := newTickBufferedReceiver()

	recv.Receive(&wire.SingleData{Payload: []byte("t1")}, 1)
	recv.Receive(&wire.SingleData{Payload: []byte("t2")}, 2)
	recv.Receive(&wire.SingleData{Payload: []byte("t3")}, 3)

	// The tick-manager jumps straight to releasing tick 2 (e.g. the
	// simulation step was delayed); ticks 1 and 2 both come back, in
	// producer-tick order, while tick 3 stays buffered.
	recv.SetReleaseTick(2)
	msgs := recv.Drain()
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("t1"), msgs[0].Data.Bytes())
	require.Equal(t, []byte("t2"), msgs[1].Data.Bytes())
}
