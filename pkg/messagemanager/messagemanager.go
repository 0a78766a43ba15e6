// Package messagemanager glues the channel registry, header/ack manager,
// priority manager, and packet builder together behind the buffer-send /
// send-packets / recv-packet / read-messages / update surface (spec.md
// §4.6).
package messagemanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/tickreplica/engine/pkg/ackmgr"
	"github.com/tickreplica/engine/pkg/channel"
	"github.com/tickreplica/engine/pkg/logging"
	"github.com/tickreplica/engine/pkg/packetbuilder"
	"github.com/tickreplica/engine/pkg/priority"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
	"go.uber.org/zap"
)

// Config configures a Manager.
type Config struct {
	Registry        *channel.Registry
	Ack             ackmgr.Config
	PriorityEnabled bool
	BytesPerSecond  float64
	ReliableConfig  channel.ReliableConfig
}

type packetAck struct {
	channel wire.ChannelID
	ack     wire.MessageAck
}

type fragmentKey struct {
	channel   wire.ChannelID
	messageID tick.MessageId
}

type fragmentAssembly struct {
	numFragments int
	have         int
	chunks       [][]byte
}

// Hook is a callback registered against a channel kind for ack/nack/sent
// notifications, primarily consumed by the replication sender.
type Hook func(ack wire.MessageAck)

// Manager is a per-connection message manager.
type Manager struct {
	mu sync.Mutex

	registry *channel.Registry
	senders  map[channel.Kind]channel.Sender
	receiver map[channel.Kind]channel.Receiver

	ack     *ackmgr.Manager
	limiter *priority.Limiter
	rtt     time.Duration

	packetToAcks map[tick.PacketId][]packetAck
	reassembly   map[fragmentKey]*fragmentAssembly

	onAck  map[channel.Kind][]Hook
	onNack map[channel.Kind][]Hook
	onSent map[channel.Kind][]Hook
}

// NewManager constructs a Manager wired to the given registry.
func NewManager(cfg Config) *Manager {
	registry := cfg.Registry
	if registry == nil {
		registry = channel.NewRegistry()
	}

	m := &Manager{
		registry:     registry,
		senders:      make(map[channel.Kind]channel.Sender),
		receiver:     make(map[channel.Kind]channel.Receiver),
		ack:          ackmgr.NewManager(cfg.Ack),
		limiter:      priority.NewLimiter(cfg.PriorityEnabled, cfg.BytesPerSecond),
		packetToAcks: make(map[tick.PacketId][]packetAck),
		reassembly:   make(map[fragmentKey]*fragmentAssembly),
		onAck:        make(map[channel.Kind][]Hook),
		onNack:       make(map[channel.Kind][]Hook),
		onSent:       make(map[channel.Kind][]Hook),
	}

	reliableCfg := cfg.ReliableConfig
	if reliableCfg == (channel.ReliableConfig{}) {
		reliableCfg = channel.DefaultReliableConfig
	}
	for _, k := range registry.Kinds() {
		s, _ := registry.ByKind(k)
		m.senders[k] = channel.NewSender(s.Mode, reliableCfg)
		m.receiver[k] = channel.NewReceiver(s.Mode)
	}

	return m
}

// OnAck registers a hook fired whenever a message sent on kind is
// acknowledged.
func (m *Manager) OnAck(kind channel.Kind, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAck[kind] = append(m.onAck[kind], hook)
}

// OnNack registers a hook fired whenever a message sent on kind is
// presumed lost.
func (m *Manager) OnNack(kind channel.Kind, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNack[kind] = append(m.onNack[kind], hook)
}

// OnSent registers a hook fired the moment a message on kind is actually
// included in a built packet (as opposed to merely buffered).
func (m *Manager) OnSent(kind channel.Kind, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSent[kind] = append(m.onSent[kind], hook)
}

// BufferSend appends bytes to the named channel's sender queue.
func (m *Manager) BufferSend(kind channel.Kind, t tick.Tick, payload []byte, priority float32) (*tick.MessageId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.senders[kind]
	if !ok {
		return nil, fmt.Errorf("messagemanager: unknown channel %q", kind)
	}
	return s.Buffer(t, payload, priority), nil
}

// SendPackets collects ready messages across all channels, runs the
// priority filter, builds packets, and returns their raw payloads.
func (m *Manager) SendPackets(now time.Time, t tick.Tick) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	settingsByChannel := make(map[wire.ChannelID]channel.Settings)
	kindByChannel := make(map[wire.ChannelID]channel.Kind)
	for _, k := range m.registry.Kinds() {
		s, _ := m.registry.ByKind(k)
		settingsByChannel[s.ID] = s
		kindByChannel[s.ID] = k
	}

	var candidates []priority.Candidate
	for _, k := range m.registry.Kinds() {
		s, _ := m.registry.ByKind(k)
		sender := m.senders[k]
		sender.CollectMessagesToSend(now, m.rtt)
		singles, _ := sender.SendPacket()
		isUpdate := k == channel.KindEntityUpdates
		for _, msg := range singles {
			candidates = append(candidates, priority.Candidate{
				Channel:             s.ID,
				Message:             msg,
				Size:                msg.Data.Len(),
				IsReplicationUpdate: isUpdate,
			})
		}
	}

	outcome := m.limiter.PriorityFilter(now, candidates)

	for _, c := range outcome.Requeue {
		m.senders[kindByChannel[c.Channel]].Requeue(c.Message)
	}
	for _, c := range outcome.Dropped {
		logging.Debug("replication update dropped by priority filter",
			zap.Uint16("channel", uint16(c.Channel)))
	}

	queuesByChannel := make(map[wire.ChannelID][]wire.SendMessage)
	for _, c := range outcome.Admitted {
		queuesByChannel[c.Channel] = append(queuesByChannel[c.Channel], c.Message)
	}
	var queues []packetbuilder.ChannelQueue
	for id, msgs := range queuesByChannel {
		queues = append(queues, packetbuilder.ChannelQueue{Channel: id, Singles: msgs})
	}

	headerFn := func(pt wire.PacketType) wire.Header {
		return m.ack.Header(now, t, pt)
	}
	packets := packetbuilder.Build(headerFn, queues)

	actualBytes := 0
	payloads := make([][]byte, 0, len(packets))
	for _, p := range packets {
		payloads = append(payloads, p.Payload)
		actualBytes += len(p.Payload)

		var acks []packetAck
		for _, a := range p.Acks {
			acks = append(acks, packetAck{channel: a.Channel, ack: a.Ack})
			if hooks := m.onSent[kindByChannel[a.Channel]]; hooks != nil {
				for _, h := range hooks {
					h(a.Ack)
				}
			}
		}
		m.packetToAcks[p.Header.PacketID] = acks
	}
	m.limiter.Reconcile(outcome.BytesAdmitted, actualBytes)

	return payloads
}

// RecvPacket parses an incoming datagram, feeds the ack manager, dispatches
// payload contents to channel receivers, and returns the packet's tick.
func (m *Manager) RecvPacket(payload []byte) (tick.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	header, n, err := wire.DecodeHeader(payload)
	if err != nil {
		return 0, fmt.Errorf("messagemanager: header: %w", err)
	}

	m.ack.RecvPacketID(header.PacketID)
	acked := m.ack.ProcessAck(header.Ack, header.AckBits)
	for _, id := range acked {
		for _, pa := range m.packetToAcks[id] {
			kind, ok := m.kindForChannelLocked(pa.channel)
			if !ok {
				continue
			}
			m.senders[kind].ReceiveAck(pa.ack)
			for _, h := range m.onAck[kind] {
				h(pa.ack)
			}
		}
		delete(m.packetToAcks, id)
	}

	body := payload[n:]
	switch header.PacketType {
	case wire.PacketTypeData:
		blocks, err := wire.DecodeDataBlocks(body)
		if err != nil {
			logging.Warn("dropping malformed data packet", zap.Error(err))
			return header.Tick, nil
		}
		for _, b := range blocks {
			kind, ok := m.kindForChannelLocked(b.Channel)
			if !ok {
				logging.Warn("dropping packet for unknown channel", zap.Uint16("channel", uint16(b.Channel)))
				continue
			}
			for _, d := range b.Data {
				m.receiver[kind].Receive(d, header.Tick)
			}
		}
	case wire.PacketTypeDataFragment:
		dfp, err := wire.DecodeDataFragmentPayload(body)
		if err != nil {
			logging.Warn("dropping malformed fragment packet", zap.Error(err))
			return header.Tick, nil
		}
		kind, ok := m.kindForChannelLocked(dfp.Channel)
		if !ok {
			logging.Warn("dropping fragment for unknown channel", zap.Uint16("channel", uint16(dfp.Channel)))
			return header.Tick, nil
		}
		m.reassembleFragment(kind, dfp.Channel, dfp.Fragment, header.Tick)
	}

	return header.Tick, nil
}

func (m *Manager) kindForChannelLocked(id wire.ChannelID) (channel.Kind, bool) {
	s, ok := m.registry.ByID(id)
	if !ok {
		return "", false
	}
	return s.Kind, true
}

func (m *Manager) reassembleFragment(kind channel.Kind, channelID wire.ChannelID, frag *wire.FragmentData, remoteTick tick.Tick) {
	key := fragmentKey{channel: channelID, messageID: frag.MessageID}
	asm, ok := m.reassembly[key]
	if !ok {
		asm = &fragmentAssembly{
			numFragments: int(frag.NumFragments),
			chunks:       make([][]byte, frag.NumFragments),
		}
		m.reassembly[key] = asm
	}
	if asm.chunks[frag.FragmentID] == nil {
		asm.chunks[frag.FragmentID] = frag.Payload
		asm.have++
	}
	if asm.have < asm.numFragments {
		return
	}

	total := 0
	for _, c := range asm.chunks {
		total += len(c)
	}
	combined := make([]byte, 0, total)
	for _, c := range asm.chunks {
		combined = append(combined, c...)
	}
	delete(m.reassembly, key)

	id := frag.MessageID
	m.receiver[kind].Receive(&wire.SingleData{ID_: &id, Payload: combined}, remoteTick)
}

// SetTickBufferRelease tells kind's receiver which producer tick the
// tick-manager is releasing on this simulation step (spec.md §4.4). It is a
// no-op if kind does not name a TickBuffered channel.
func (m *Manager) SetTickBufferRelease(kind channel.Kind, releaseTick tick.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.receiver[kind].(*channel.TickBufferedReceiver); ok {
		r.SetReleaseTick(releaseTick)
	}
}

// ReadMessages drains every channel receiver. TickBuffered channels only
// yield messages once SetTickBufferRelease has designated a release tick
// for this step; every other mode drains whatever is ready on arrival.
func (m *Manager) ReadMessages() map[channel.Kind][]wire.ReceiveMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[channel.Kind][]wire.ReceiveMessage)
	for k, r := range m.receiver {
		if msgs := r.Drain(); len(msgs) > 0 {
			out[k] = msgs
		}
	}
	return out
}

// Update runs loss detection for the current RTT estimate and triggers nack
// notifications to channel senders and registered hooks.
func (m *Manager) Update(now time.Time, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rtt = rtt
	lost := m.ack.DetectLosses(now, rtt)
	for _, id := range lost {
		for _, pa := range m.packetToAcks[id] {
			kind, ok := m.kindForChannelLocked(pa.channel)
			if !ok {
				continue
			}
			m.senders[kind].NotifyLost(pa.ack)
			for _, h := range m.onNack[kind] {
				h(pa.ack)
			}
		}
	}
}

// Registry exposes the channel registry this manager was built with.
func (m *Manager) Registry() *channel.Registry {
	return m.registry
}
