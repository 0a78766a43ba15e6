// Package replication implements the per-group replication sender and
// receiver (spec.md §4.7, §4.8): tick-stamped entity action/update streams,
// reliable ordered actions gating unreliable updates, and ack-driven
// send_tick/ack_bevy_tick bookkeeping for incremental change tracking.
package replication

import (
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// BevyTick is the host simulation's own monotonic wall-tick counter,
// distinct from the wrapping 16-bit simulation Tick used on the wire; it
// never wraps within the lifetime of a connection and is used purely to
// track "changed since" watermarks for delta-style change detection.
type BevyTick uint64

// wrapWindowThird bounds how long a group's last_action_tick/ack_tick may
// go unrefreshed before Cleanup discards them, a third of the full i16
// wrap window (±32767) the same way lightyear's replication sender does.
const wrapWindowThird = (1 << 15) / 3

// GroupSenderState is the per-group bookkeeping the replication sender
// keeps for one destination (spec.md §3's "GroupChannel (sender side)").
type GroupSenderState struct {
	NextActionMessageID tick.MessageId
	SendTick            *BevyTick
	AckBevyTick         *BevyTick
	AckTick             *tick.Tick
	LastActionTick      *tick.Tick
	BasePriority        float32
	AccumulatedPriority float32
}

// GroupReceiverState is the per-group bookkeeping the replication receiver
// keeps for one source (spec.md §3's "GroupChannel (receiver side)").
type GroupReceiverState struct {
	NextExpectedActionMessageID tick.MessageId
	LatestAppliedActionTick     *tick.Tick
}

// Applier is the host simulation's callback surface: it owns the entity
// and component store and is told what to do with received actions and
// updates (spec.md §1 treats it as an external collaborator).
type Applier interface {
	ApplySpawn(group wire.GroupID, entity wire.EntityRef)
	ApplySpawnReuse(group wire.GroupID, entity wire.EntityRef, remote wire.EntityRef)
	ApplyDespawn(group wire.GroupID, entity wire.EntityRef)
	ApplyInsert(group wire.GroupID, entity wire.EntityRef, kind wire.ComponentKind, bytes []byte)
	ApplyRemove(group wire.GroupID, entity wire.EntityRef, kind wire.ComponentKind)
	ApplyUpdate(group wire.GroupID, entity wire.EntityRef, bytes []byte)
}
