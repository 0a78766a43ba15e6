// Package channel implements the five channel delivery modes multiplexed
// over a connection (spec.md §4.4): per-channel senders buffer outgoing
// messages and hand ready ones to the packet builder; per-channel receivers
// reorder/dedupe incoming messages before the replication layer reads them.
package channel

import (
	"fmt"
	"time"

	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// Mode is one of the five delivery guarantees a channel can offer.
type Mode uint8

const (
	ModeUnorderedUnreliable Mode = iota
	ModeUnorderedUnreliableWithAcks
	ModeSequencedUnreliable
	ModeOrderedReliable
	ModeTickBuffered
)

func (m Mode) String() string {
	switch m {
	case ModeUnorderedUnreliable:
		return "UnorderedUnreliable"
	case ModeUnorderedUnreliableWithAcks:
		return "UnorderedUnreliableWithAcks"
	case ModeSequencedUnreliable:
		return "SequencedUnreliable"
	case ModeOrderedReliable:
		return "OrderedReliable"
	case ModeTickBuffered:
		return "TickBuffered"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Direction restricts which peer may legally send on a channel.
type Direction uint8

const (
	DirectionBidirectional Direction = iota
	DirectionClientToServer
	DirectionServerToClient
)

// Kind names a logical channel; spec.md §6.4 lists the built-in kinds.
type Kind string

// Built-in channel kinds (spec.md §6.4).
const (
	KindEntityActions              Kind = "EntityActions"
	KindEntityUpdates              Kind = "EntityUpdates"
	KindPing                       Kind = "Ping"
	KindInput                      Kind = "Input"
	KindDefaultUnorderedUnreliable Kind = "DefaultUnorderedUnreliable"
	KindTickBuffer                 Kind = "TickBuffer"
)

// Settings describes one channel's static configuration.
type Settings struct {
	ID        wire.ChannelID
	Kind      Kind
	Mode      Mode
	Direction Direction
}

// Sender is the outgoing side of a channel.
type Sender interface {
	// Buffer appends a payload to be sent, optionally tagging it with a
	// MessageId (assigned by every mode except UnorderedUnreliable and
	// TickBuffered, which return nil).
	Buffer(now tick.Tick, payload []byte, priority float32) *tick.MessageId
	// CollectMessagesToSend performs any lazy pre-pass work (e.g.
	// re-queuing due-for-retransmit messages) before SendPacket is called.
	CollectMessagesToSend(now time.Time, rtt time.Duration)
	// SendPacket drains and returns the messages ready to go out this
	// round, split into single-packet-sized and must-fragment candidates.
	// The packet builder decides final packing; the channel itself does
	// not know about MTU.
	SendPacket() (singles []wire.SendMessage, fragments []wire.SendMessage)
	// ReceiveAck notifies the sender that a previously sent message has
	// been confirmed delivered.
	ReceiveAck(ack wire.MessageAck)
	// NotifyLost notifies the sender that the packet carrying ack is
	// presumed lost, so a reliable sender can schedule a retransmit.
	NotifyLost(ack wire.MessageAck)
	// Requeue pushes a message that lost out during priority admission
	// back onto this channel's send queue for the next flush.
	Requeue(msg wire.SendMessage)
	Mode() Mode
}

// Receiver is the incoming side of a channel.
type Receiver interface {
	// Receive hands the receiver one decoded message plus the tick at
	// which the packet carrying it was sent (header.Tick, propagated to
	// every message in that packet, spec.md §5).
	Receive(data wire.Data, remoteSentTick tick.Tick)
	// Drain returns every message now ready for delivery (in whatever
	// order this mode guarantees) and clears them from the receiver.
	Drain() []wire.ReceiveMessage
	Mode() Mode
}

// NewSender constructs the Sender implementation appropriate for mode.
func NewSender(mode Mode, cfg ReliableConfig) Sender {
	switch mode {
	case ModeUnorderedUnreliable:
		return newUnorderedUnreliableSender()
	case ModeUnorderedUnreliableWithAcks:
		return newAckedUnreliableSender()
	case ModeSequencedUnreliable:
		return newSequencedUnreliableSender()
	case ModeOrderedReliable:
		return newOrderedReliableSender(cfg)
	case ModeTickBuffered:
		return newTickBufferedSender()
	default:
		panic(fmt.Sprintf("channel: unknown mode %d", mode))
	}
}

// NewReceiver constructs the Receiver implementation appropriate for mode.
func NewReceiver(mode Mode) Receiver {
	switch mode {
	case ModeUnorderedUnreliable, ModeUnorderedUnreliableWithAcks:
		return newUnorderedReceiver(mode)
	case ModeSequencedUnreliable:
		return newSequencedReceiver()
	case ModeOrderedReliable:
		return newOrderedReliableReceiver()
	case ModeTickBuffered:
		return newTickBufferedReceiver()
	default:
		panic(fmt.Sprintf("channel: unknown mode %d", mode))
	}
}

// ReliableConfig is handed to every OrderedReliable channel sender.
type ReliableConfig struct {
	// RTOFloor is stored by each OrderedReliable sender but not consulted:
	// a message is retransmitted only when NotifyLost reports its packet
	// lost, so resend timing follows the ack manager's RTT-multiple loss
	// detection alone.
	RTOFloor time.Duration
}

// DefaultReliableConfig mirrors the teacher's conservative retransmit
// floor (pkg/custom/reliable.ReliableClientHandler.rto).
var DefaultReliableConfig = ReliableConfig{RTOFloor: 100 * time.Millisecond}

// Registry maps channel kinds to their wire id and settings, the same role
// the teacher's packet.PacketRegistry plays for packet types.
type Registry struct {
	byKind map[Kind]Settings
	byID   map[wire.ChannelID]Settings
}

// NewRegistry builds a Registry pre-populated with the built-in channels
// (spec.md §6.4).
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[Kind]Settings), byID: make(map[wire.ChannelID]Settings)}
	builtins := []Settings{
		{ID: 0, Kind: KindEntityActions, Mode: ModeOrderedReliable, Direction: DirectionBidirectional},
		{ID: 1, Kind: KindEntityUpdates, Mode: ModeSequencedUnreliable, Direction: DirectionBidirectional},
		{ID: 2, Kind: KindPing, Mode: ModeSequencedUnreliable, Direction: DirectionBidirectional},
		{ID: 3, Kind: KindInput, Mode: ModeSequencedUnreliable, Direction: DirectionClientToServer},
		{ID: 4, Kind: KindDefaultUnorderedUnreliable, Mode: ModeUnorderedUnreliable, Direction: DirectionBidirectional},
		{ID: 5, Kind: KindTickBuffer, Mode: ModeTickBuffered, Direction: DirectionClientToServer},
	}
	for _, s := range builtins {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a channel's settings.
func (r *Registry) Register(s Settings) {
	r.byKind[s.Kind] = s
	r.byID[s.ID] = s
}

// ByKind looks up a channel's settings by its logical name.
func (r *Registry) ByKind(k Kind) (Settings, bool) {
	s, ok := r.byKind[k]
	return s, ok
}

// ByID looks up a channel's settings by its wire id.
func (r *Registry) ByID(id wire.ChannelID) (Settings, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Kinds returns every registered channel kind.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}
