package channel

import (
	"sort"
	"time"

	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// tickBufferedSender ignores the tick passed to Buffer and behaves like
// UnorderedUnreliable on the wire; the tick a message is filed under on the
// receiving side is the header tick of the packet that carried it (see
// TickBufferedReceiver).
type tickBufferedSender struct {
	queue []wire.SendMessage
}

func newTickBufferedSender() *tickBufferedSender {
	return &tickBufferedSender{}
}

func (s *tickBufferedSender) Buffer(_ tick.Tick, payload []byte, priority float32) *tick.MessageId {
	s.queue = append(s.queue, wire.SendMessage{
		Data:     &wire.SingleData{Payload: payload},
		Priority: priority,
	})
	return nil
}

func (s *tickBufferedSender) CollectMessagesToSend(time.Time, time.Duration) {}

func (s *tickBufferedSender) SendPacket() (singles, fragments []wire.SendMessage) {
	singles, s.queue = s.queue, nil
	return singles, nil
}

func (s *tickBufferedSender) ReceiveAck(wire.MessageAck)   {}
func (s *tickBufferedSender) NotifyLost(wire.MessageAck)   {}
func (s *tickBufferedSender) Requeue(msg wire.SendMessage) { s.queue = append(s.queue, msg) }
func (s *tickBufferedSender) Mode() Mode                   { return ModeTickBuffered }

// TickBufferedReceiver indexes incoming messages by the producer tick they
// were sent for (spec.md §4.4: "sender keys messages by producer tick;
// receiver indexes by that tick"), rather than releasing them in arrival
// order. Messages sit in the index until the tick-manager calls
// SetReleaseTick to say which producer tick this simulation step is
// consuming; Drain then returns that tick's messages, plus any older tick
// left over from a skipped step, and forgets them.
//
// Unlike every other channel mode, Drain returns nothing until a release
// tick has been set: release here is paced by the simulation loop, not by
// arrival.
type TickBufferedReceiver struct {
	byTick      map[tick.Tick][]wire.ReceiveMessage
	releaseTick tick.Tick
	haveRelease bool
}

func newTickBufferedReceiver() *TickBufferedReceiver {
	return &TickBufferedReceiver{byTick: make(map[tick.Tick][]wire.ReceiveMessage)}
}

// Receive buffers data under the producer tick it was sent for.
func (r *TickBufferedReceiver) Receive(data wire.Data, remoteSentTick tick.Tick) {
	r.byTick[remoteSentTick] = append(r.byTick[remoteSentTick], wire.ReceiveMessage{
		Data:           data,
		RemoteSentTick: remoteSentTick,
	})
}

// SetReleaseTick tells the receiver which producer tick the tick-manager is
// releasing on this simulation step. The next Drain call hands back every
// tick buffered at or before releaseTick.
func (r *TickBufferedReceiver) SetReleaseTick(releaseTick tick.Tick) {
	r.releaseTick = releaseTick
	r.haveRelease = true
}

// Drain returns every message indexed at or before the last tick passed to
// SetReleaseTick, oldest producer tick first, and removes them from the
// index. It returns nothing until a release tick has been set.
func (r *TickBufferedReceiver) Drain() []wire.ReceiveMessage {
	if !r.haveRelease || len(r.byTick) == 0 {
		return nil
	}

	ready := make([]tick.Tick, 0, len(r.byTick))
	for t := range r.byTick {
		if !t.After(r.releaseTick) {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Before(ready[j]) })

	var out []wire.ReceiveMessage
	for _, t := range ready {
		out = append(out, r.byTick[t]...)
		delete(r.byTick, t)
	}
	return out
}

func (r *TickBufferedReceiver) Mode() Mode { return ModeTickBuffered }
