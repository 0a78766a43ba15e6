package replication

import (
	"sync"

	"github.com/tickreplica/engine/pkg/channel"
	"github.com/tickreplica/engine/pkg/messagemanager"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// SenderConfig configures a Sender.
type SenderConfig struct {
	// BandwidthCapEnabled controls the send_tick advancement strategy:
	// disabled advances send_tick at buffer time; enabled advances it only
	// once the message manager confirms the update was actually packed
	// into a packet (spec.md §9, resolved in SPEC_FULL.md §5).
	BandwidthCapEnabled bool
	// SendUpdatesSinceLastAck switches GetSendTick to return the group's
	// ack_bevy_tick instead of its send_tick (spec.md §4.7, §6.5).
	SendUpdatesSinceLastAck bool
	// PriorityEnabled gates accumulated-priority bookkeeping (spec.md
	// §4.7's "only when rate limiter enabled").
	PriorityEnabled bool
	// DefaultBasePriority seeds new groups' priority.
	DefaultBasePriority float32
}

type updateRecord struct {
	group        wire.GroupID
	sendBevyTick BevyTick
}

// Sender accumulates pending entity actions/updates per destination and
// flushes them on the actions/updates channels each send interval
// (spec.md §4.7).
type Sender struct {
	mu sync.Mutex

	mm  *messagemanager.Manager
	cfg SenderConfig

	groups map[wire.GroupID]*GroupSenderState

	pendingActions map[wire.GroupID]map[wire.EntityRef]*wire.EntityActions
	pendingUpdates map[wire.GroupID]map[wire.EntityRef][]byte

	updateRecords map[tick.MessageId]updateRecord
}

// NewSender constructs a Sender bound to mm, registering ack/nack/sent
// hooks on the EntityUpdates channel for send_tick/ack_bevy_tick
// bookkeeping.
func NewSender(mm *messagemanager.Manager, cfg SenderConfig) *Sender {
	s := &Sender{
		mm:             mm,
		cfg:            cfg,
		groups:         make(map[wire.GroupID]*GroupSenderState),
		pendingActions: make(map[wire.GroupID]map[wire.EntityRef]*wire.EntityActions),
		pendingUpdates: make(map[wire.GroupID]map[wire.EntityRef][]byte),
		updateRecords:  make(map[tick.MessageId]updateRecord),
	}
	mm.OnAck(channel.KindEntityUpdates, s.handleAck)
	mm.OnNack(channel.KindEntityUpdates, s.handleNack)
	mm.OnSent(channel.KindEntityUpdates, s.handleSent)
	return s
}

func (s *Sender) group(id wire.GroupID) *GroupSenderState {
	g, ok := s.groups[id]
	if !ok {
		g = &GroupSenderState{BasePriority: s.cfg.DefaultBasePriority}
		s.groups[id] = g
	}
	return g
}

func (s *Sender) actionsFor(group wire.GroupID, entity wire.EntityRef) *wire.EntityActions {
	m, ok := s.pendingActions[group]
	if !ok {
		m = make(map[wire.EntityRef]*wire.EntityActions)
		s.pendingActions[group] = m
	}
	a, ok := m[entity]
	if !ok {
		a = &wire.EntityActions{}
		m[entity] = a
	}
	return a
}

// PrepareEntitySpawn marks entity as newly spawned within group.
func (s *Sender) PrepareEntitySpawn(group wire.GroupID, entity wire.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionsFor(group, entity).Spawn = wire.SpawnNew
}

// PrepareEntitySpawnReuse marks entity as a spawn that reuses an existing
// remote entity reference (prediction pre-spawn, spec.md §4.7).
func (s *Sender) PrepareEntitySpawnReuse(group wire.GroupID, entity, remote wire.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actionsFor(group, entity)
	a.Spawn = wire.SpawnReuse
	a.ReuseEntity = remote
}

// PrepareEntityDespawn marks entity as despawned within group.
func (s *Sender) PrepareEntityDespawn(group wire.GroupID, entity wire.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionsFor(group, entity).Spawn = wire.Despawn
}

// PrepareComponentInsert queues a component insertion, sent reliably with
// the entity's next action message.
func (s *Sender) PrepareComponentInsert(group wire.GroupID, entity wire.EntityRef, kind wire.ComponentKind, bytes []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actionsFor(group, entity)
	a.Insert = append(a.Insert, wire.ComponentBytes{Kind: kind, Bytes: bytes})
}

// PrepareComponentRemove queues a component removal, sent reliably with
// the entity's next action message.
func (s *Sender) PrepareComponentRemove(group wire.GroupID, entity wire.EntityRef, kind wire.ComponentKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actionsFor(group, entity)
	a.Remove = append(a.Remove, kind)
}

// PrepareComponentUpdate queues a component update. Unless the entity's
// group has pending actions this flush, the update travels on the
// unreliable updates channel; if the group does get an action message
// this flush, every pending update of the group is merged into it and
// travels reliably (spec.md §4.7's flush policy step 1).
func (s *Sender) PrepareComponentUpdate(group wire.GroupID, entity wire.EntityRef, bytes []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pendingUpdates[group]
	if !ok {
		m = make(map[wire.EntityRef][]byte)
		s.pendingUpdates[group] = m
	}
	m[entity] = append(m[entity], bytes...)
}

// PrepareDeltaComponentUpdate is a thin pass-through: this module does not
// implement a delta/diff store (there is no concrete component schema to
// diff against here), so it always forwards bytes as the diff against the
// registered base value the host supplies, as SPEC_FULL.md §5 documents.
func (s *Sender) PrepareDeltaComponentUpdate(group wire.GroupID, entity wire.EntityRef, baseValueDiff []byte) {
	s.PrepareComponentUpdate(group, entity, baseValueDiff)
}

// SetBasePriority sets the priority used when a group's updates fail to be
// admitted and must accumulate (spec.md §4.7).
func (s *Sender) SetBasePriority(group wire.GroupID, priority float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group(group).BasePriority = priority
}

// GetSendTick returns the watermark the host should diff component state
// against when collecting this flush's changes for group (spec.md §4.7).
func (s *Sender) GetSendTick(group wire.GroupID) *BevyTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(group)
	if s.cfg.SendUpdatesSinceLastAck {
		return g.AckBevyTick
	}
	return g.SendTick
}

// Flush merges pending actions/updates for every group into messages on
// the actions/updates channels (spec.md §4.7's three-step flush policy).
func (s *Sender) Flush(currentTick tick.Tick, currentBevyTick BevyTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for group, entities := range s.pendingActions {
		g := s.group(group)

		if updates, ok := s.pendingUpdates[group]; ok {
			for entity, bytes := range updates {
				s.actionsFor(group, entity).Update = append(s.actionsFor(group, entity).Update, bytes)
			}
			delete(s.pendingUpdates, group)
		}

		msg := wire.EntityActionsMessage{SequenceID: g.NextActionMessageID, Group: group}
		for entity, a := range entities {
			msg.Entities = append(msg.Entities, wire.EntityActionEntry{Entity: entity, Actions: *a})
		}
		g.NextActionMessageID = g.NextActionMessageID.Add(1)
		g.LastActionTick = tickPtr(currentTick)
		g.SendTick = bevyTickPtr(currentBevyTick)

		bytes := msg.Encode(nil)
		_, _ = s.mm.BufferSend(channel.KindEntityActions, currentTick, bytes, g.priorityForSend())
		delete(s.pendingActions, group)
	}

	for group, updates := range s.pendingUpdates {
		g := s.group(group)

		msg := wire.EntityUpdatesMessage{Group: group, LastActionTick: g.LastActionTick}
		for entity, bytes := range updates {
			msg.Updates = append(msg.Updates, wire.EntityUpdateEntry{Entity: entity, Bytes: bytes})
		}

		if !s.cfg.BandwidthCapEnabled {
			g.SendTick = bevyTickPtr(currentBevyTick)
		}
		if s.cfg.PriorityEnabled {
			g.AccumulatedPriority += g.BasePriority
		}

		bytes := msg.Encode(nil)
		id, err := s.mm.BufferSend(channel.KindEntityUpdates, currentTick, bytes, g.priorityForSend())
		if err == nil && id != nil {
			s.updateRecords[*id] = updateRecord{group: group, sendBevyTick: currentBevyTick}
		}
		delete(s.pendingUpdates, group)
	}
}

func (g *GroupSenderState) priorityForSend() float32 {
	return g.BasePriority + g.AccumulatedPriority
}

func (s *Sender) handleAck(ack wire.MessageAck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.updateRecords[ack.MessageID]
	if !ok {
		return
	}
	g := s.group(rec.group)
	g.AckBevyTick = bevyTickPtr(rec.sendBevyTick)
	delete(s.updateRecords, ack.MessageID)
}

func (s *Sender) handleNack(ack wire.MessageAck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.updateRecords[ack.MessageID]
	if !ok {
		return
	}
	g := s.group(rec.group)
	if g.AckBevyTick == nil || rec.sendBevyTick > *g.AckBevyTick {
		g.SendTick = g.AckBevyTick
	}
	delete(s.updateRecords, ack.MessageID)
}

func (s *Sender) handleSent(ack wire.MessageAck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.updateRecords[ack.MessageID]
	if !ok {
		return
	}
	g := s.group(rec.group)
	if s.cfg.BandwidthCapEnabled {
		g.SendTick = bevyTickPtr(rec.sendBevyTick)
	}
	g.AccumulatedPriority = 0
}

// Cleanup discards last_action_tick/ack_tick for groups whose most recent
// action predates currentTick by more than a third of the i16 wrap window,
// matching lightyear's tick-wrap garbage collection (spec.md §4.7,
// SPEC_FULL.md §4).
func (s *Sender) Cleanup(currentTick tick.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.LastActionTick == nil {
			continue
		}
		if int(currentTick.Diff(*g.LastActionTick)) > wrapWindowThird {
			g.LastActionTick = nil
			g.AckTick = nil
		}
	}
}

// Group returns a snapshot of a group's sender-side state, mostly for
// diagnostics and tests.
func (s *Sender) Group(id wire.GroupID) GroupSenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.group(id)
}

func tickPtr(t tick.Tick) *tick.Tick       { return &t }
func bevyTickPtr(b BevyTick) *BevyTick     { return &b }
