package channel

import (
	"time"

	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// sequencedUnreliableSender assigns a strictly increasing MessageId to
// every message; no retransmission.
type sequencedUnreliableSender struct {
	nextID tick.MessageId
	queue  []wire.SendMessage
}

func newSequencedUnreliableSender() *sequencedUnreliableSender {
	return &sequencedUnreliableSender{}
}

func (s *sequencedUnreliableSender) Buffer(_ tick.Tick, payload []byte, priority float32) *tick.MessageId {
	id := s.nextID
	s.nextID = s.nextID.Add(1)
	s.queue = append(s.queue, wire.SendMessage{
		Data:     &wire.SingleData{ID_: &id, Payload: payload},
		Priority: priority,
	})
	return &id
}

func (s *sequencedUnreliableSender) CollectMessagesToSend(time.Time, time.Duration) {}

func (s *sequencedUnreliableSender) SendPacket() (singles, fragments []wire.SendMessage) {
	singles, s.queue = s.queue, nil
	return singles, nil
}

func (s *sequencedUnreliableSender) ReceiveAck(wire.MessageAck)   {}
func (s *sequencedUnreliableSender) NotifyLost(wire.MessageAck)   {}
func (s *sequencedUnreliableSender) Requeue(msg wire.SendMessage) { s.queue = append(s.queue, msg) }
func (s *sequencedUnreliableSender) Mode() Mode                   { return ModeSequencedUnreliable }

// sequencedReceiver drops any MessageId at or behind the highest one
// already accepted, delivering the rest in arrival order.
type sequencedReceiver struct {
	haveHighest bool
	highest     tick.MessageId
	ready       []wire.ReceiveMessage
}

func newSequencedReceiver() *sequencedReceiver {
	return &sequencedReceiver{}
}

func (r *sequencedReceiver) Receive(data wire.Data, remoteSentTick tick.Tick) {
	id, ok := data.ID()
	if !ok {
		// No id: arrived on a channel not actually tagging ids; deliver
		// as-is rather than silently drop.
		r.ready = append(r.ready, wire.ReceiveMessage{Data: data, RemoteSentTick: remoteSentTick})
		return
	}
	if r.haveHighest && !id.After(r.highest) {
		return
	}
	r.highest = id
	r.haveHighest = true
	r.ready = append(r.ready, wire.ReceiveMessage{Data: data, RemoteSentTick: remoteSentTick})
}

func (r *sequencedReceiver) Drain() []wire.ReceiveMessage {
	out := r.ready
	r.ready = nil
	return out
}

func (r *sequencedReceiver) Mode() Mode { return ModeSequencedUnreliable }
