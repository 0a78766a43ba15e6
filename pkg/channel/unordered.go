package channel

import (
	"time"

	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// unorderedUnreliableSender never assigns a MessageId; messages are
// fire-and-forget with no ack tracking.
type unorderedUnreliableSender struct {
	queue []wire.SendMessage
}

func newUnorderedUnreliableSender() *unorderedUnreliableSender {
	return &unorderedUnreliableSender{}
}

func (s *unorderedUnreliableSender) Buffer(_ tick.Tick, payload []byte, priority float32) *tick.MessageId {
	s.queue = append(s.queue, wire.SendMessage{
		Data:     &wire.SingleData{Payload: payload},
		Priority: priority,
	})
	return nil
}

func (s *unorderedUnreliableSender) CollectMessagesToSend(time.Time, time.Duration) {}

func (s *unorderedUnreliableSender) SendPacket() (singles, fragments []wire.SendMessage) {
	singles, s.queue = s.queue, nil
	return singles, nil
}

func (s *unorderedUnreliableSender) ReceiveAck(wire.MessageAck)      {}
func (s *unorderedUnreliableSender) NotifyLost(wire.MessageAck)      {}
func (s *unorderedUnreliableSender) Requeue(msg wire.SendMessage)    { s.queue = append(s.queue, msg) }
func (s *unorderedUnreliableSender) Mode() Mode                      { return ModeUnorderedUnreliable }

// ackedUnreliableSender assigns a MessageId to every message so the caller
// can subscribe to ack notifications, but never retransmits.
type ackedUnreliableSender struct {
	nextID tick.MessageId
	queue  []wire.SendMessage
}

func newAckedUnreliableSender() *ackedUnreliableSender {
	return &ackedUnreliableSender{}
}

func (s *ackedUnreliableSender) Buffer(_ tick.Tick, payload []byte, priority float32) *tick.MessageId {
	id := s.nextID
	s.nextID = s.nextID.Add(1)
	s.queue = append(s.queue, wire.SendMessage{
		Data:     &wire.SingleData{ID_: &id, Payload: payload},
		Priority: priority,
	})
	return &id
}

func (s *ackedUnreliableSender) CollectMessagesToSend(time.Time, time.Duration) {}

func (s *ackedUnreliableSender) SendPacket() (singles, fragments []wire.SendMessage) {
	singles, s.queue = s.queue, nil
	return singles, nil
}

func (s *ackedUnreliableSender) ReceiveAck(wire.MessageAck)   {}
func (s *ackedUnreliableSender) NotifyLost(wire.MessageAck)   {}
func (s *ackedUnreliableSender) Requeue(msg wire.SendMessage) { s.queue = append(s.queue, msg) }
func (s *ackedUnreliableSender) Mode() Mode                   { return ModeUnorderedUnreliableWithAcks }

// unorderedReceiver delivers messages in arrival order, with no reordering
// or dedup; shared by UnorderedUnreliable and UnorderedUnreliableWithAcks
// since the ack bookkeeping for the latter lives in the sender/message
// manager, not the receiver.
type unorderedReceiver struct {
	mode  Mode
	ready []wire.ReceiveMessage
}

func newUnorderedReceiver(mode Mode) *unorderedReceiver {
	return &unorderedReceiver{mode: mode}
}

func (r *unorderedReceiver) Receive(data wire.Data, remoteSentTick tick.Tick) {
	r.ready = append(r.ready, wire.ReceiveMessage{Data: data, RemoteSentTick: remoteSentTick})
}

func (r *unorderedReceiver) Drain() []wire.ReceiveMessage {
	out := r.ready
	r.ready = nil
	return out
}

func (r *unorderedReceiver) Mode() Mode { return r.mode }
