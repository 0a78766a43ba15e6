package ackmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
)

func TestSendHeaderFieldsAssignsMonotonicIDs(t *testing.T) {
	m := NewManager(Config{})
	now := time.Unix(0, 0)

	id0, _, _ := m.SendHeaderFields(now)
	id1, _, _ := m.SendHeaderFields(now)
	require.Equal(t, tick.PacketId(0), id0)
	require.Equal(t, tick.PacketId(1), id1)
}

func TestProcessAckIsIdempotent(t *testing.T) {
	m := NewManager(Config{})
	now := time.Unix(0, 0)
	id, _, _ := m.SendHeaderFields(now)

	acked := m.ProcessAck(id, 0)
	require.Equal(t, []tick.PacketId{id}, acked)

	// Processing the same ack again yields nothing new.
	acked = m.ProcessAck(id, 0)
	require.Empty(t, acked)
}

func TestProcessAckBitfield(t *testing.T) {
	m := NewManager(Config{})
	now := time.Unix(0, 0)
	id0, _, _ := m.SendHeaderFields(now)
	id1, _, _ := m.SendHeaderFields(now)
	id2, _, _ := m.SendHeaderFields(now)

	// Ack id2 directly, and set bit 0 (id1, 1 behind id2) in the bitfield.
	acked := m.ProcessAck(id2, 1<<0)
	require.ElementsMatch(t, []tick.PacketId{id2, id1}, acked)

	// id0 still unacked.
	acked = m.ProcessAck(id2, 1<<0|1<<1)
	require.Equal(t, []tick.PacketId{id0}, acked)
}

func TestDetectLossesAndAckDominatesLoss(t *testing.T) {
	m := NewManager(Config{NackRTTMultiple: 1})
	start := time.Unix(0, 0)
	id, _, _ := m.SendHeaderFields(start)

	rtt := 10 * time.Millisecond
	lost := m.DetectLosses(start.Add(5*time.Millisecond), rtt)
	require.Empty(t, lost, "too soon to be lost")

	lost = m.DetectLosses(start.Add(50*time.Millisecond), rtt)
	require.Equal(t, []tick.PacketId{id}, lost)

	// A second sweep does not re-report it.
	lost = m.DetectLosses(start.Add(100*time.Millisecond), rtt)
	require.Empty(t, lost)

	// An ack arriving after the loss notification still resolves it
	// (ack dominates loss) and is not reported lost again thereafter.
	acked := m.ProcessAck(id, 0)
	require.Equal(t, []tick.PacketId{id}, acked)
	acked = m.ProcessAck(id, 0)
	require.Empty(t, acked)
}

func TestRecvPacketIDBuildsWindow(t *testing.T) {
	m := NewManager(Config{})
	m.RecvPacketID(10)
	_, ack, bits := m.SendHeaderFields(time.Unix(0, 0))
	require.Equal(t, tick.PacketId(10), ack)
	require.Equal(t, uint32(0), bits)

	m.RecvPacketID(12)
	_, ack, bits = m.SendHeaderFields(time.Unix(0, 0))
	require.Equal(t, tick.PacketId(12), ack)
	// id 10 is 2 behind 12 -> bit 1 set.
	require.Equal(t, uint32(1<<1), bits)

	// An older, out-of-order id sets its corresponding bit without moving
	// the window forward.
	m.RecvPacketID(11)
	_, ack, bits = m.SendHeaderFields(time.Unix(0, 0))
	require.Equal(t, tick.PacketId(12), ack)
	require.Equal(t, uint32(1<<0|1<<1), bits)
}
