package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tickreplica/engine/pkg/tick"
)

// GroupID partitions entities into an ordering domain; all actions and
// updates within one group are totally ordered (spec.md §3).
type GroupID uint64

// EntityRef identifies an entity on the wire, either the local id or a
// remote reference being reused, depending on context.
type EntityRef uint64

// ComponentKind identifies a component type registered by the host
// simulation. Raw component bytes are opaque to this package.
type ComponentKind uint64

// SpawnTag is the EntityActions spawn discriminant.
type SpawnTag uint8

const (
	SpawnNone SpawnTag = iota
	SpawnNew
	SpawnReuse
	Despawn
)

// EntityActions carries, for one entity within one group's action message,
// the spawn/despawn directive plus any inserted/removed components and the
// updates that piggy-back reliably with this action.
type EntityActions struct {
	Spawn       SpawnTag
	ReuseEntity EntityRef // valid only when Spawn == SpawnReuse

	Insert []ComponentBytes
	Remove []ComponentKind
	Update [][]byte
}

// ComponentBytes pairs a component kind with its serialized payload.
type ComponentBytes struct {
	Kind  ComponentKind
	Bytes []byte
}

// EntityActionsMessage is the reliable, ordered message carrying every
// entity's actions for one group at one sequence id.
type EntityActionsMessage struct {
	SequenceID tick.MessageId
	Group      GroupID
	Entities   []EntityActionEntry
}

// EntityActionEntry pairs an entity with its actions within the message.
type EntityActionEntry struct {
	Entity  EntityRef
	Actions EntityActions
}

// EntityUpdatesMessage is the unreliable message carrying component updates
// for a group, gated on the receiver until its last_action_tick has been
// locally applied.
type EntityUpdatesMessage struct {
	Group          GroupID
	LastActionTick *tick.Tick
	Updates        []EntityUpdateEntry
}

// EntityUpdateEntry pairs an entity with the raw update bytes for it.
type EntityUpdateEntry struct {
	Entity EntityRef
	Bytes  []byte
}

// Encode appends the wire encoding of m to buf.
func (m EntityActionsMessage) Encode(buf []byte) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[0:2], uint16(m.SequenceID))
	buf = append(buf, tmp[0:2]...)
	binary.BigEndian.PutUint64(tmp[0:8], uint64(m.Group))
	buf = append(buf, tmp[0:8]...)
	buf = PutUvarint(buf, uint64(len(m.Entities)))
	for _, e := range m.Entities {
		buf = encodeEntityRef(buf, e.Entity)
		buf = encodeEntityActions(buf, e.Actions)
	}
	return buf
}

func encodeEntityRef(buf []byte, e EntityRef) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(e))
	return append(buf, tmp[:]...)
}

func decodeEntityRef(buf []byte) (EntityRef, int, error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("%w: entity ref", ErrShortBuffer)
	}
	return EntityRef(binary.BigEndian.Uint64(buf[0:8])), 8, nil
}

func encodeEntityActions(buf []byte, a EntityActions) []byte {
	buf = append(buf, uint8(a.Spawn))
	if a.Spawn == SpawnReuse {
		buf = encodeEntityRef(buf, a.ReuseEntity)
	}
	buf = PutUvarint(buf, uint64(len(a.Insert)))
	for _, c := range a.Insert {
		buf = PutUvarint(buf, uint64(c.Kind))
		buf = PutUvarint(buf, uint64(len(c.Bytes)))
		buf = append(buf, c.Bytes...)
	}
	buf = PutUvarint(buf, uint64(len(a.Remove)))
	for _, k := range a.Remove {
		buf = PutUvarint(buf, uint64(k))
	}
	buf = PutUvarint(buf, uint64(len(a.Update)))
	for _, u := range a.Update {
		buf = PutUvarint(buf, uint64(len(u)))
		buf = append(buf, u...)
	}
	return buf
}

func decodeEntityActions(buf []byte) (EntityActions, int, error) {
	if len(buf) < 1 {
		return EntityActions{}, 0, fmt.Errorf("%w: spawn tag", ErrShortBuffer)
	}
	a := EntityActions{Spawn: SpawnTag(buf[0])}
	off := 1

	if a.Spawn == SpawnReuse {
		ref, n, err := decodeEntityRef(buf[off:])
		if err != nil {
			return EntityActions{}, 0, fmt.Errorf("reuse entity: %w", err)
		}
		a.ReuseEntity = ref
		off += n
	}

	insertCount, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return EntityActions{}, 0, fmt.Errorf("insert count: %w", err)
	}
	off += n
	for i := uint64(0); i < insertCount; i++ {
		kind, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return EntityActions{}, 0, fmt.Errorf("insert %d kind: %w", i, err)
		}
		off += n
		l, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return EntityActions{}, 0, fmt.Errorf("insert %d len: %w", i, err)
		}
		off += n
		if uint64(len(buf)-off) < l {
			return EntityActions{}, 0, fmt.Errorf("%w: insert %d bytes", ErrShortBuffer, i)
		}
		b := make([]byte, l)
		copy(b, buf[off:off+int(l)])
		off += int(l)
		a.Insert = append(a.Insert, ComponentBytes{Kind: ComponentKind(kind), Bytes: b})
	}

	removeCount, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return EntityActions{}, 0, fmt.Errorf("remove count: %w", err)
	}
	off += n
	for i := uint64(0); i < removeCount; i++ {
		kind, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return EntityActions{}, 0, fmt.Errorf("remove %d kind: %w", i, err)
		}
		off += n
		a.Remove = append(a.Remove, ComponentKind(kind))
	}

	updateCount, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return EntityActions{}, 0, fmt.Errorf("update count: %w", err)
	}
	off += n
	for i := uint64(0); i < updateCount; i++ {
		l, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return EntityActions{}, 0, fmt.Errorf("update %d len: %w", i, err)
		}
		off += n
		if uint64(len(buf)-off) < l {
			return EntityActions{}, 0, fmt.Errorf("%w: update %d bytes", ErrShortBuffer, i)
		}
		b := make([]byte, l)
		copy(b, buf[off:off+int(l)])
		off += int(l)
		a.Update = append(a.Update, b)
	}

	return a, off, nil
}

// DecodeEntityActionsMessage parses an EntityActionsMessage from buf.
func DecodeEntityActionsMessage(buf []byte) (EntityActionsMessage, error) {
	if len(buf) < 10 {
		return EntityActionsMessage{}, fmt.Errorf("%w: actions message header", ErrShortBuffer)
	}
	seq := tick.MessageId(binary.BigEndian.Uint16(buf[0:2]))
	group := GroupID(binary.BigEndian.Uint64(buf[2:10]))
	off := 10

	count, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return EntityActionsMessage{}, fmt.Errorf("entity count: %w", err)
	}
	off += n

	entries := make([]EntityActionEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		ref, n, err := decodeEntityRef(buf[off:])
		if err != nil {
			return EntityActionsMessage{}, fmt.Errorf("entry %d entity: %w", i, err)
		}
		off += n
		actions, n, err := decodeEntityActions(buf[off:])
		if err != nil {
			return EntityActionsMessage{}, fmt.Errorf("entry %d actions: %w", i, err)
		}
		off += n
		entries = append(entries, EntityActionEntry{Entity: ref, Actions: actions})
	}

	return EntityActionsMessage{SequenceID: seq, Group: group, Entities: entries}, nil
}

// Encode appends the wire encoding of m to buf.
func (m EntityUpdatesMessage) Encode(buf []byte) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(m.Group))
	buf = append(buf, tmp[:]...)
	if m.LastActionTick != nil {
		buf = append(buf, 1)
		var tb [2]byte
		binary.BigEndian.PutUint16(tb[:], uint16(*m.LastActionTick))
		buf = append(buf, tb[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = PutUvarint(buf, uint64(len(m.Updates)))
	for _, u := range m.Updates {
		buf = encodeEntityRef(buf, u.Entity)
		buf = PutUvarint(buf, uint64(len(u.Bytes)))
		buf = append(buf, u.Bytes...)
	}
	return buf
}

// DecodeEntityUpdatesMessage parses an EntityUpdatesMessage from buf.
func DecodeEntityUpdatesMessage(buf []byte) (EntityUpdatesMessage, error) {
	if len(buf) < 9 {
		return EntityUpdatesMessage{}, fmt.Errorf("%w: updates message header", ErrShortBuffer)
	}
	group := GroupID(binary.BigEndian.Uint64(buf[0:8]))
	off := 8

	flag := buf[off]
	off++
	var lastActionTick *tick.Tick
	if flag == 1 {
		if len(buf)-off < 2 {
			return EntityUpdatesMessage{}, fmt.Errorf("%w: last action tick", ErrShortBuffer)
		}
		v := tick.Tick(binary.BigEndian.Uint16(buf[off : off+2]))
		lastActionTick = &v
		off += 2
	}

	count, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return EntityUpdatesMessage{}, fmt.Errorf("update count: %w", err)
	}
	off += n

	updates := make([]EntityUpdateEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		ref, n, err := decodeEntityRef(buf[off:])
		if err != nil {
			return EntityUpdatesMessage{}, fmt.Errorf("entry %d entity: %w", i, err)
		}
		off += n
		l, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return EntityUpdatesMessage{}, fmt.Errorf("entry %d len: %w", i, err)
		}
		off += n
		if uint64(len(buf)-off) < l {
			return EntityUpdatesMessage{}, fmt.Errorf("%w: entry %d bytes", ErrShortBuffer, i)
		}
		b := make([]byte, l)
		copy(b, buf[off:off+int(l)])
		off += int(l)
		updates = append(updates, EntityUpdateEntry{Entity: ref, Bytes: b})
	}

	return EntityUpdatesMessage{Group: group, LastActionTick: lastActionTick, Updates: updates}, nil
}
