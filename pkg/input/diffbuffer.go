package input

import (
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// DiffBuffer is a tick-indexed ring of the diffs recorded against the
// previous tick's snapshot (spec.md §4.9's ActionDiffBuffer<A>).
type DiffBuffer struct {
	buf *Buffer[[]wire.ActionDiff]
}

// NewDiffBuffer returns an empty action-diff buffer.
func NewDiffBuffer() *DiffBuffer {
	return &DiffBuffer{buf: NewBuffer[[]wire.ActionDiff]()}
}

func (d *DiffBuffer) Set(t tick.Tick, diffs []wire.ActionDiff) { d.buf.Set(t, diffs) }

func (d *DiffBuffer) Get(t tick.Tick) ([]wire.ActionDiff, bool) { return d.buf.Get(t) }

// Pop drops entries strictly older than upToTick. The dropped diffs are
// not returned; a rollback read over remote players folds diffs through
// Get (see RollbackRemote) before cleanup discards them.
func (d *DiffBuffer) Pop(upToTick tick.Tick) {
	d.buf.Pop(upToTick)
}

func (d *DiffBuffer) StartTick() (tick.Tick, bool) { return d.buf.StartTick() }

func (d *DiffBuffer) Shift(delta int) { d.buf.Shift(delta) }

func (d *DiffBuffer) Len() int { return d.buf.Len() }

// DiffFunc computes the diffs that turn prev into cur for one input
// taxonomy; the concrete action-state shape is owned by the host, so this
// package never inspects A itself beyond this caller-supplied function
// (mirrors replication's host-owned component bytes).
type DiffFunc[A any] func(prev, cur A) []wire.ActionDiff

// ApplyFunc folds one diff into an action state, the inverse of DiffFunc,
// used by rollback reads to reconstruct a remote player's state.
type ApplyFunc[A any] func(state A, diff wire.ActionDiff) A

// ApplyDiffs folds diffs onto state in order, used to reconstruct a remote
// entity's ActionState during rollback (spec.md §4.9's rollback read).
func ApplyDiffs[A any](state A, diffs []wire.ActionDiff, apply ApplyFunc[A]) A {
	for _, d := range diffs {
		state = apply(state, d)
	}
	return state
}
