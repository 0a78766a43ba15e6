package input

import (
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// Source owns one input taxonomy's InputBuffer/DiffBuffer pair and runs the
// producer cycle described in spec.md §4.9.
type Source[A any] struct {
	target     wire.InputTarget
	inputDelay int
	diffFn     DiffFunc[A]

	buffer *Buffer[A]
	diffs  *DiffBuffer
}

// NewSource constructs a Source for target, buffering ActionState snapshots
// inputDelay ticks ahead of the simulation tick that consumes them.
func NewSource[A any](target wire.InputTarget, inputDelay int, diffFn DiffFunc[A]) *Source[A] {
	return &Source[A]{
		target:     target,
		inputDelay: inputDelay,
		diffFn:     diffFn,
		buffer:     NewBuffer[A](),
		diffs:      NewDiffBuffer(),
	}
}

// TickPre implements the producer cycle's steps 1-2: the host has already
// updated ActionState for t+d from its input source; this writes it into
// InputBuffer at t+d and computes its diff against the prior entry at
// t+d-1 into ActionDiffBuffer at t+d.
func (s *Source[A]) TickPre(t tick.Tick, actionState A) {
	writeTick := t.Add(s.inputDelay)
	prev, hadPrev := s.buffer.Get(writeTick.Add(-1))
	s.buffer.Set(writeTick, actionState)
	if hadPrev {
		s.diffs.Set(writeTick, s.diffFn(prev, actionState))
	} else {
		s.diffs.Set(writeTick, nil)
	}
}

// TickBodyInput implements step 3: the tick body always acts on tick t's
// buffered snapshot, which with inputDelay > 0 differs from the live
// (still-mutating) ActionState the input source is writing at t+d.
func (s *Source[A]) TickBodyInput(t tick.Tick) (A, bool) {
	return s.buffer.Get(t)
}

// PostTickLive implements step 4: the live ActionState the next frame's
// input source should keep mutating is the t+d entry.
func (s *Source[A]) PostTickLive(t tick.Tick) (A, bool) {
	return s.buffer.Get(t.Add(s.inputDelay))
}

// RollbackLocal implements the local half of spec.md §4.9's rollback read:
// the live ActionState for a locally controlled entity is restored directly
// from the buffer.
func (s *Source[A]) RollbackLocal(r tick.Tick) (A, bool) {
	return s.buffer.Get(r)
}

// RollbackRemote implements the remote half: fold every diff buffered
// between the entity's last-known state and r onto base, reconstructing the
// ActionState a verbatim snapshot was never sent for.
func RollbackRemote[A any](base A, diffs *DiffBuffer, from, to tick.Tick, apply ApplyFunc[A]) A {
	state := base
	for t := from; !t.After(to); t = t.Add(1) {
		if d, ok := diffs.Get(t); ok {
			state = ApplyDiffs(state, d, apply)
		}
	}
	return state
}

// RedundancyWindow returns how many trailing ticks one InputMessage must
// cover: packetRedundancy * ticksPerSendInterval (spec.md §4.9, default
// 10x redundancy; resolved to match §8 scenario 5's worked example of
// packet_redundancy=3 covering exactly 3 ticks, [18,20] inclusive).
func RedundancyWindow(packetRedundancy, ticksPerSendInterval int) int {
	return packetRedundancy * ticksPerSendInterval
}

// BuildMessageTarget assembles this source's TargetDiffs entry covering the
// redundancy window ending at endTick, oldest tick first. Ticks outside the
// diff buffer's range are omitted; a tick inside the range that TickPre
// skipped is included with the padding entry Buffer.Set wrote for it.
func (s *Source[A]) BuildMessageTarget(endTick tick.Tick, window int) wire.TargetDiffs {
	td := wire.TargetDiffs{Target: s.target}
	for i := window - 1; i >= 0; i-- {
		t := endTick.Add(-i)
		diffs, ok := s.diffs.Get(t)
		if !ok {
			continue
		}
		td.PerTick = append(td.PerTick, wire.TickDiffs{
			TickOffset: uint64(endTick.Diff(t)),
			Diffs:      diffs,
		})
	}
	return td
}

// Cleanup drops buffer and diff entries older than interpolationTick
// (spec.md §4.9's per-send-interval cleanup step).
func (s *Source[A]) Cleanup(interpolationTick tick.Tick) {
	s.buffer.Pop(interpolationTick)
	s.diffs.Pop(interpolationTick)
}

// Shift re-bases both the input and diff buffers by delta, used when the
// sync manager emits a tick snap (spec.md §4.10).
func (s *Source[A]) Shift(delta int) {
	s.buffer.Shift(delta)
	s.diffs.Shift(delta)
}

// Buffer exposes the underlying InputBuffer for direct inspection or tests.
func (s *Source[A]) Buffer() *Buffer[A] { return s.buffer }

// Diffs exposes the underlying ActionDiffBuffer for direct inspection or
// tests.
func (s *Source[A]) Diffs() *DiffBuffer { return s.diffs }

// BuildMessage assembles one InputMessage covering the redundancy window
// ending at endTick from every source in sources.
func BuildMessage[A any](endTick tick.Tick, window int, sources []*Source[A]) wire.InputMessage {
	msg := wire.InputMessage{EndTick: endTick}
	for _, s := range sources {
		msg.Targets = append(msg.Targets, s.BuildMessageTarget(endTick, window))
	}
	return msg
}
