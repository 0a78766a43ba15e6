package input

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/tick"
)

func TestBufferGetAfterSetWithNoInterveningPop(t *testing.T) {
	b := NewBuffer[string]()
	b.Set(10, "a")
	b.Set(11, "b")

	got, ok := b.Get(10)
	require.True(t, ok)
	require.Equal(t, "a", got)

	got, ok = b.Get(11)
	require.True(t, ok)
	require.Equal(t, "b", got)
}

func TestBufferSetAheadPadsWithPreviousEntry(t *testing.T) {
	b := NewBuffer[int]()
	b.Set(5, 1)
	b.Set(8, 4)

	// Density invariant: every tick in between carries a same-as-previous
	// marker (here, the last written value repeated).
	for tk := tick.Tick(5); tk.Before(8); tk = tk.Add(1) {
		v, ok := b.Get(tk)
		require.True(t, ok, "tick %d", tk)
		require.Equal(t, 1, v)
	}
	v, ok := b.Get(8)
	require.True(t, ok)
	require.Equal(t, 4, v)
}

func TestBufferPopDropsStrictlyOlder(t *testing.T) {
	b := NewBuffer[int]()
	b.Set(1, 1)
	b.Set(2, 2)
	b.Set(3, 3)

	b.Pop(2)

	_, ok := b.Get(1)
	require.False(t, ok)
	v, ok := b.Get(2)
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = b.Get(3)
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestBufferShiftRebasesOnTickSnap(t *testing.T) {
	b := NewBuffer[int]()
	b.Set(1000, 1000)
	b.Set(1001, 1001)

	snap := tick.Snap{Old: 1000, New: 500}
	b.Shift(int(snap.Shift()))

	v, ok := b.Get(501)
	require.True(t, ok)
	require.Equal(t, 1001, v)
}

func TestBufferGetOutOfRangeReturnsFalse(t *testing.T) {
	b := NewBuffer[int]()
	_, ok := b.Get(0)
	require.False(t, ok)

	b.Set(5, 1)
	_, ok = b.Get(4)
	require.False(t, ok)
	_, ok = b.Get(6)
	require.False(t, ok)
}
