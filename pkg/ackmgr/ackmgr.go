// Package ackmgr implements the header/ack manager (spec.md §4.3): packet
// id assignment, the remote-received bitfield window, sent-packet tracking,
// and RTT-multiple loss detection with ack-dominates-loss reconciliation.
package ackmgr

import (
	"sync"
	"time"

	"github.com/tickreplica/engine/pkg/logging"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
	"go.uber.org/zap"
)

// bitfieldWindow is the number of packet ids below the highest received id
// that the ack bitfield covers.
const bitfieldWindow = 32

// DefaultNackRTTMultiple is the multiple of RTT after which an unacked
// packet is declared lost, absent an explicit configuration.
const DefaultNackRTTMultiple = 1.5

// Config configures a Manager.
type Config struct {
	// NackRTTMultiple: a sent packet is presumed lost once
	// now-sentAt > NackRTTMultiple*RTT.
	NackRTTMultiple float64
}

type sentPacket struct {
	sentAt time.Time
	lost   bool
}

// Manager is a per-connection, per-direction header/ack manager.
type Manager struct {
	mu sync.Mutex

	nackRTTMultiple float64

	nextPacketID tick.PacketId
	sent         map[tick.PacketId]*sentPacket

	haveRemote    bool
	remoteHighest tick.PacketId
	remoteBits    uint32
}

// NewManager constructs a Manager from cfg, filling in defaults for unset
// fields.
func NewManager(cfg Config) *Manager {
	mult := cfg.NackRTTMultiple
	if mult <= 0 {
		mult = DefaultNackRTTMultiple
	}
	return &Manager{
		nackRTTMultiple: mult,
		sent:            make(map[tick.PacketId]*sentPacket),
	}
}

// SendHeaderFields returns the (packetID, ack, ackBits) that the caller
// should stamp into the outgoing packet header, and records the new packet
// id as sent-but-unacked at now.
func (m *Manager) SendHeaderFields(now time.Time) (packetID tick.PacketId, ack tick.PacketId, ackBits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	packetID = m.nextPacketID
	m.nextPacketID = m.nextPacketID.Add(1)
	m.sent[packetID] = &sentPacket{sentAt: now}

	return packetID, m.remoteHighest, m.remoteBits
}

// RecvPacketID updates the remote-received window with the id of a packet
// just received from the peer, so our next SendHeaderFields reports it.
func (m *Manager) RecvPacketID(id tick.PacketId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveRemote {
		m.remoteHighest = id
		m.remoteBits = 0
		m.haveRemote = true
		return
	}

	switch {
	case id == m.remoteHighest:
		// duplicate of the current highest; nothing to shift.
	case id.After(m.remoteHighest):
		shift := uint32(int16(id) - int16(m.remoteHighest))
		if shift > bitfieldWindow {
			m.remoteBits = 0
		} else {
			m.remoteBits = (m.remoteBits << shift) | (1 << (shift - 1))
		}
		m.remoteHighest = id
	default:
		behind := uint32(int16(m.remoteHighest) - int16(id))
		if behind >= 1 && behind <= bitfieldWindow {
			m.remoteBits |= 1 << (behind - 1)
		}
	}
}

// ProcessAck interprets the ack/ackBits fields of a header just received
// (describing which of OUR previously sent packets the peer has received)
// and returns the set of packet ids newly acknowledged by it. Processing
// the same header twice is idempotent: already-acked ids are not returned
// again (ack-dominates-loss is automatic since an acked id is removed from
// the unacked set and a later loss sweep can no longer touch it).
func (m *Manager) ProcessAck(ack tick.PacketId, ackBits uint32) []tick.PacketId {
	m.mu.Lock()
	defer m.mu.Unlock()

	var newlyAcked []tick.PacketId
	if _, ok := m.sent[ack]; ok {
		newlyAcked = append(newlyAcked, ack)
		delete(m.sent, ack)
	}
	for bit := uint32(0); bit < bitfieldWindow; bit++ {
		if ackBits&(1<<bit) == 0 {
			continue
		}
		id := ack.Add(-int(bit + 1))
		if _, ok := m.sent[id]; ok {
			newlyAcked = append(newlyAcked, id)
			delete(m.sent, id)
		}
	}
	return newlyAcked
}

// DetectLosses scans packets still unacked and returns any whose age
// exceeds rtt*nackRTTMultiple, marking them as already-notified so a
// subsequent call (before they are acked or retired) does not report them
// again.
func (m *Manager) DetectLosses(now time.Time, rtt time.Duration) []tick.PacketId {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := time.Duration(float64(rtt) * m.nackRTTMultiple)
	var lost []tick.PacketId
	for id, sp := range m.sent {
		if sp.lost {
			continue
		}
		if now.Sub(sp.sentAt) > threshold {
			sp.lost = true
			lost = append(lost, id)
			logging.Debug("packet presumed lost", zap.Uint16("packet_id", uint16(id)))
		}
	}
	return lost
}

// Forget drops bookkeeping for a packet id once its owner (e.g. the
// replication sender after a retransmit) no longer needs to track it,
// without waiting for an ack that may never come.
func (m *Manager) Forget(id tick.PacketId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sent, id)
}

// Header builds a full packet header for an outgoing packet at t, using
// SendHeaderFields for the packet id and ack fields.
func (m *Manager) Header(now time.Time, t tick.Tick, pt wire.PacketType) wire.Header {
	id, ack, bits := m.SendHeaderFields(now)
	return wire.Header{
		PacketID:   id,
		Ack:        ack,
		AckBits:    bits,
		Tick:       t,
		PacketType: pt,
	}
}
