package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
)

func TestEntityActionsMessageRoundTrip(t *testing.T) {
	msg := EntityActionsMessage{
		SequenceID: 5,
		Group:      GroupID(42),
		Entities: []EntityActionEntry{
			{
				Entity: EntityRef(100),
				Actions: EntityActions{
					Spawn:  SpawnNew,
					Insert: []ComponentBytes{{Kind: 1, Bytes: []byte("pos")}},
					Remove: []ComponentKind{2},
					Update: [][]byte{[]byte("vel")},
				},
			},
			{
				Entity: EntityRef(101),
				Actions: EntityActions{
					Spawn:       SpawnReuse,
					ReuseEntity: EntityRef(999),
				},
			},
		},
	}

	buf := msg.Encode(nil)
	decoded, err := DecodeEntityActionsMessage(buf)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestEntityUpdatesMessageRoundTrip(t *testing.T) {
	lastTick := tick.Tick(10)
	msg := EntityUpdatesMessage{
		Group:          GroupID(7),
		LastActionTick: &lastTick,
		Updates: []EntityUpdateEntry{
			{Entity: EntityRef(1), Bytes: []byte("abc")},
		},
	}
	buf := msg.Encode(nil)
	decoded, err := DecodeEntityUpdatesMessage(buf)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)

	msgNoTick := EntityUpdatesMessage{Group: GroupID(8), Updates: []EntityUpdateEntry{}}
	buf = msgNoTick.Encode(nil)
	decoded, err = DecodeEntityUpdatesMessage(buf)
	require.NoError(t, err)
	require.Nil(t, decoded.LastActionTick)
	require.Equal(t, GroupID(8), decoded.Group)
}
