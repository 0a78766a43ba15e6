package channel

import (
	"time"

	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// pendingReliable tracks one buffered-but-unacked reliable message.
type pendingReliable struct {
	data     wire.Data
	priority float32
	acked    bool
}

// orderedReliableSender assigns a MessageId to every message, keeps every
// unacked message around, and re-queues it for resend whenever the packet
// that carried it is declared lost (spec.md §4.4, §4.3).
//
// Fragment-level partial acknowledgement is not tracked separately: a
// fragmented message is considered acked as soon as any MessageAck for its
// MessageId arrives, which in practice coincides with the last fragment's
// packet (fragments of one message are sent back-to-back and the receiver
// only hands an ack upstream once the message manager records it).
type orderedReliableSender struct {
	cfg ReliableConfig

	nextID  tick.MessageId
	pending map[tick.MessageId]*pendingReliable
	order   []tick.MessageId // insertion order, for deterministic resend order

	toSend []wire.SendMessage
}

func newOrderedReliableSender(cfg ReliableConfig) *orderedReliableSender {
	return &orderedReliableSender{cfg: cfg, pending: make(map[tick.MessageId]*pendingReliable)}
}

func (s *orderedReliableSender) Buffer(_ tick.Tick, payload []byte, priority float32) *tick.MessageId {
	id := s.nextID
	s.nextID = s.nextID.Add(1)

	data := &wire.SingleData{ID_: &id, Payload: payload}
	s.pending[id] = &pendingReliable{data: data, priority: priority}
	s.order = append(s.order, id)
	s.toSend = append(s.toSend, wire.SendMessage{Data: data, Priority: priority})
	return &id
}

func (s *orderedReliableSender) CollectMessagesToSend(time.Time, time.Duration) {}

func (s *orderedReliableSender) SendPacket() (singles, fragments []wire.SendMessage) {
	for _, m := range s.toSend {
		if _, ok := m.Data.(*wire.FragmentData); ok {
			fragments = append(fragments, m)
		} else {
			singles = append(singles, m)
		}
	}
	s.toSend = nil
	return singles, fragments
}

func (s *orderedReliableSender) ReceiveAck(ack wire.MessageAck) {
	if p, ok := s.pending[ack.MessageID]; ok {
		p.acked = true
		delete(s.pending, ack.MessageID)
	}
}

func (s *orderedReliableSender) NotifyLost(ack wire.MessageAck) {
	p, ok := s.pending[ack.MessageID]
	if !ok || p.acked {
		return
	}
	s.toSend = append(s.toSend, wire.SendMessage{Data: p.data, Priority: p.priority})
}

func (s *orderedReliableSender) Requeue(msg wire.SendMessage) {
	s.toSend = append(s.toSend, msg)
}

func (s *orderedReliableSender) Mode() Mode { return ModeOrderedReliable }

// PendingCount reports how many messages are buffered awaiting ack, mostly
// useful for tests and diagnostics.
func (s *orderedReliableSender) PendingCount() int {
	return len(s.pending)
}

// orderedReliableReceiver buffers out-of-order arrivals by MessageId and
// releases them strictly in order once gaps are filled.
type orderedReliableReceiver struct {
	nextExpected tick.MessageId
	buffered     map[tick.MessageId]wire.ReceiveMessage
	ready        []wire.ReceiveMessage
}

func newOrderedReliableReceiver() *orderedReliableReceiver {
	return &orderedReliableReceiver{buffered: make(map[tick.MessageId]wire.ReceiveMessage)}
}

func (r *orderedReliableReceiver) Receive(data wire.Data, remoteSentTick tick.Tick) {
	id, ok := data.ID()
	if !ok {
		return
	}
	if id.After(r.nextExpected) || id == r.nextExpected {
		r.buffered[id] = wire.ReceiveMessage{Data: data, RemoteSentTick: remoteSentTick}
	} else {
		return // duplicate of an already-released message
	}

	for {
		msg, ok := r.buffered[r.nextExpected]
		if !ok {
			break
		}
		delete(r.buffered, r.nextExpected)
		r.ready = append(r.ready, msg)
		r.nextExpected = r.nextExpected.Add(1)
	}
}

func (r *orderedReliableReceiver) Drain() []wire.ReceiveMessage {
	out := r.ready
	r.ready = nil
	return out
}

func (r *orderedReliableReceiver) Mode() Mode { return ModeOrderedReliable }
