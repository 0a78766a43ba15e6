package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

type recordingApplier struct {
	applied []string
}

func (a *recordingApplier) ApplySpawn(group wire.GroupID, entity wire.EntityRef) {
	a.applied = append(a.applied, "spawn")
}
func (a *recordingApplier) ApplySpawnReuse(wire.GroupID, wire.EntityRef, wire.EntityRef) {
	a.applied = append(a.applied, "spawn_reuse")
}
func (a *recordingApplier) ApplyDespawn(wire.GroupID, wire.EntityRef) {
	a.applied = append(a.applied, "despawn")
}
func (a *recordingApplier) ApplyInsert(wire.GroupID, wire.EntityRef, wire.ComponentKind, []byte) {
	a.applied = append(a.applied, "insert")
}
func (a *recordingApplier) ApplyRemove(wire.GroupID, wire.EntityRef, wire.ComponentKind) {
	a.applied = append(a.applied, "remove")
}
func (a *recordingApplier) ApplyUpdate(group wire.GroupID, entity wire.EntityRef, bytes []byte) {
	a.applied = append(a.applied, "update:"+string(bytes))
}

func TestUpdateGatedByActionBarrier(t *testing.T) {
	applier := &recordingApplier{}
	r := NewReceiver(applier)
	group := wire.GroupID(1)
	entity := wire.EntityRef(1)

	action := wire.EntityActionsMessage{
		SequenceID: 5,
		Group:      group,
		Entities:   []wire.EntityActionEntry{{Entity: entity, Actions: wire.EntityActions{Spawn: wire.SpawnNew}}},
	}
	// Pretend the receiver expects sequence id 5 first (as if the prior
	// four were already applied in an earlier session).
	r.group(group).NextExpectedActionMessageID = 5

	lastActionTick := tick.Tick(10)
	update := wire.EntityUpdatesMessage{
		Group:          group,
		LastActionTick: &lastActionTick,
		Updates:        []wire.EntityUpdateEntry{{Entity: entity, Bytes: []byte("pos")}},
	}

	// The update arrives first (action presumed lost); it must be buffered,
	// not applied, since the barrier has not been crossed.
	require.NoError(t, r.ReceiveUpdatesMessage(update.Encode(nil), 10))
	require.Empty(t, applier.applied)

	// The retransmitted action arrives at tick 10; applying it crosses the
	// barrier and releases the buffered update immediately after.
	require.NoError(t, r.ReceiveActionsMessage(action.Encode(nil), 10))

	require.Equal(t, []string{"spawn", "update:pos"}, applier.applied)
	require.Equal(t, tick.Tick(10), *r.Group(group).LatestAppliedActionTick)
}

func TestActionsAppliedInSequenceOrder(t *testing.T) {
	applier := &recordingApplier{}
	r := NewReceiver(applier)
	group := wire.GroupID(1)

	msg1 := wire.EntityActionsMessage{SequenceID: 0, Group: group, Entities: []wire.EntityActionEntry{
		{Entity: 1, Actions: wire.EntityActions{Spawn: wire.SpawnNew}},
	}}
	msg2 := wire.EntityActionsMessage{SequenceID: 1, Group: group, Entities: []wire.EntityActionEntry{
		{Entity: 1, Actions: wire.EntityActions{Spawn: wire.Despawn}},
	}}

	// Arrive out of order.
	require.NoError(t, r.ReceiveActionsMessage(msg2.Encode(nil), 1))
	require.Empty(t, applier.applied, "sequence 1 blocked behind missing sequence 0")

	require.NoError(t, r.ReceiveActionsMessage(msg1.Encode(nil), 0))
	require.Equal(t, []string{"spawn", "despawn"}, applier.applied)
}
