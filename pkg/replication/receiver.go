package replication

import (
	"sort"
	"sync"

	"github.com/tickreplica/engine/pkg/logging"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
	"go.uber.org/zap"
)

// bufferedUpdate is an updates message waiting for its group's
// latest_applied_action_tick to cross last_action_tick.
type bufferedUpdate struct {
	msg        wire.EntityUpdatesMessage
	remoteTick tick.Tick
}

// Receiver applies incoming entity actions/updates in per-group order,
// gating updates on the group's action stream (spec.md §4.8).
type Receiver struct {
	mu sync.Mutex

	applier Applier

	groups           map[wire.GroupID]*GroupReceiverState
	pendingActions   map[wire.GroupID]map[tick.MessageId]actionEntry
	bufferedUpdates  map[wire.GroupID][]bufferedUpdate
}

type actionEntry struct {
	msg        wire.EntityActionsMessage
	remoteTick tick.Tick
}

// NewReceiver constructs a Receiver that applies decoded changes through
// applier.
func NewReceiver(applier Applier) *Receiver {
	return &Receiver{
		applier:         applier,
		groups:          make(map[wire.GroupID]*GroupReceiverState),
		pendingActions:  make(map[wire.GroupID]map[tick.MessageId]actionEntry),
		bufferedUpdates: make(map[wire.GroupID][]bufferedUpdate),
	}
}

func (r *Receiver) group(id wire.GroupID) *GroupReceiverState {
	g, ok := r.groups[id]
	if !ok {
		g = &GroupReceiverState{}
		r.groups[id] = g
	}
	return g
}

// ReceiveActionsMessage decodes and buffers one EntityActionsMessage
// payload, releasing every action now unblocked in strict MessageId order
// (spec.md §4.8).
func (r *Receiver) ReceiveActionsMessage(payload []byte, remoteTick tick.Tick) error {
	msg, err := wire.DecodeEntityActionsMessage(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(msg.Group)
	m, ok := r.pendingActions[msg.Group]
	if !ok {
		m = make(map[tick.MessageId]actionEntry)
		r.pendingActions[msg.Group] = m
	}
	m[msg.SequenceID] = actionEntry{msg: msg, remoteTick: remoteTick}

	for {
		entry, ok := m[g.NextExpectedActionMessageID]
		if !ok {
			break
		}
		delete(m, g.NextExpectedActionMessageID)
		r.applyActions(entry.msg, entry.remoteTick)
		g.NextExpectedActionMessageID = g.NextExpectedActionMessageID.Add(1)
		g.LatestAppliedActionTick = tickPtr(entry.remoteTick)
	}

	r.releaseBufferedUpdates(msg.Group)
	return nil
}

func (r *Receiver) applyActions(msg wire.EntityActionsMessage, remoteTick tick.Tick) {
	for _, entry := range msg.Entities {
		entity, a := entry.Entity, entry.Actions
		switch a.Spawn {
		case wire.SpawnNew:
			r.applier.ApplySpawn(msg.Group, entity)
		case wire.SpawnReuse:
			r.applier.ApplySpawnReuse(msg.Group, entity, a.ReuseEntity)
		case wire.Despawn:
			r.applier.ApplyDespawn(msg.Group, entity)
		}
		for _, c := range a.Insert {
			r.applier.ApplyInsert(msg.Group, entity, c.Kind, c.Bytes)
		}
		for _, k := range a.Remove {
			r.applier.ApplyRemove(msg.Group, entity, k)
		}
		for _, u := range a.Update {
			r.applier.ApplyUpdate(msg.Group, entity, u)
		}
	}
	_ = remoteTick
}

// ReceiveUpdatesMessage decodes one EntityUpdatesMessage payload, applying
// it immediately if the group's action barrier has already been crossed,
// or buffering it until a later action release crosses it (spec.md §4.8).
func (r *Receiver) ReceiveUpdatesMessage(payload []byte, remoteTick tick.Tick) error {
	msg, err := wire.DecodeEntityUpdatesMessage(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(msg.Group)
	if r.barrierCrossed(g, msg.LastActionTick) {
		r.applyUpdates(msg)
		return nil
	}

	r.bufferedUpdates[msg.Group] = append(r.bufferedUpdates[msg.Group], bufferedUpdate{msg: msg, remoteTick: remoteTick})
	logging.Debug("buffering update behind action barrier",
		zap.Uint64("group", uint64(msg.Group)))
	return nil
}

func (r *Receiver) barrierCrossed(g *GroupReceiverState, lastActionTick *tick.Tick) bool {
	if lastActionTick == nil {
		return true
	}
	if g.LatestAppliedActionTick == nil {
		return false
	}
	return g.LatestAppliedActionTick.AtOrAfter(*lastActionTick)
}

func (r *Receiver) applyUpdates(msg wire.EntityUpdatesMessage) {
	for _, u := range msg.Updates {
		r.applier.ApplyUpdate(msg.Group, u.Entity, u.Bytes)
	}
}

func (r *Receiver) releaseBufferedUpdates(group wire.GroupID) {
	pending := r.bufferedUpdates[group]
	if len(pending) == 0 {
		return
	}
	g := r.group(group)

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].remoteTick.Before(pending[j].remoteTick)
	})

	var remaining []bufferedUpdate
	for _, bu := range pending {
		if r.barrierCrossed(g, bu.msg.LastActionTick) {
			r.applyUpdates(bu.msg)
		} else {
			remaining = append(remaining, bu)
		}
	}
	r.bufferedUpdates[group] = remaining
}

// Group returns a snapshot of a group's receiver-side state, mostly for
// diagnostics and tests.
func (r *Receiver) Group(id wire.GroupID) GroupReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.group(id)
}
