package input

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

func diffMove(prev, cur int) []wire.ActionDiff {
	if prev == cur {
		return nil
	}
	return []wire.ActionDiff{{Variant: wire.DiffValueChanged, Action: 1, Value: float32(cur)}}
}

func TestProducerCycleWritesBufferAndDiffsAtDelayedTick(t *testing.T) {
	target := wire.InputTarget{Tag: wire.InputTargetGlobal}
	src := NewSource[int](target, 2, diffMove)

	src.TickPre(10, 1) // writes tick 12
	src.TickPre(11, 2) // writes tick 13, diffs against tick 12's value (1)

	v, ok := src.Buffer().Get(12)
	require.True(t, ok)
	require.Equal(t, 1, v)

	d, ok := src.Diffs().Get(13)
	require.True(t, ok)
	require.Len(t, d, 1)
	require.Equal(t, float32(2), d[0].Value)

	// Step 3: the tick body at tick t reads the snapshot buffered for t
	// itself. Tick 10's would have been written at tick 8, so none exists;
	// tick 12's was written at tick 10.
	body, ok := src.TickBodyInput(10)
	require.False(t, ok, "nothing buffered yet for tick 10 itself")

	body, ok = src.TickBodyInput(12)
	require.True(t, ok)
	require.Equal(t, 1, body)
}

func TestInputRedundancySurvivesTwoDroppedDatagrams(t *testing.T) {
	target := wire.InputTarget{Tag: wire.InputTargetGlobal}
	src := NewSource[int](target, 0, diffMove)

	for i, v := range []int{0, 1, 2, 3} {
		tk := tick.Tick(17 + i)
		src.TickPre(tk, v)
	}

	window := RedundancyWindow(3, 1)
	require.Equal(t, 3, window)

	msg := BuildMessage(tick.Tick(20), window, []*Source[int]{src})
	encoded := msg.Encode(nil)

	// Simulate the first two datagrams (at ticks 18 and 19) being dropped;
	// only the third, sent at tick 20, survives and must still carry every
	// tick from 18 through 20.
	decoded, err := wire.DecodeInputMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, tick.Tick(20), decoded.EndTick)
	require.Len(t, decoded.Targets, 1)

	offsets := make(map[uint64]bool)
	for _, td := range decoded.Targets[0].PerTick {
		offsets[td.TickOffset] = true
	}
	// TickOffset 0,1,2 correspond to ticks 20,19,18 - the full [18,20] range.
	require.True(t, offsets[0])
	require.True(t, offsets[1])
	require.True(t, offsets[2])
	require.False(t, offsets[3])
}

func TestRollbackRemoteReconstructsFromDiffs(t *testing.T) {
	diffs := NewDiffBuffer()
	diffs.Set(1, []wire.ActionDiff{{Variant: wire.DiffValueChanged, Value: 5}})
	diffs.Set(2, []wire.ActionDiff{{Variant: wire.DiffValueChanged, Value: 7}})

	apply := func(state float32, d wire.ActionDiff) float32 {
		if d.Variant == wire.DiffValueChanged {
			return d.Value
		}
		return state
	}

	got := RollbackRemote(float32(0), diffs, 1, 2, apply)
	require.Equal(t, float32(7), got)
}

func TestSourceShiftOnTickSnap(t *testing.T) {
	target := wire.InputTarget{Tag: wire.InputTargetGlobal}
	src := NewSource[int](target, 0, diffMove)
	src.TickPre(1000, 42)

	snap := tick.Snap{Old: 1000, New: 500}
	src.Shift(int(snap.Shift()))

	v, ok := src.Buffer().Get(500)
	require.True(t, ok)
	require.Equal(t, 42, v)
}
