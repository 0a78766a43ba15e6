// Package input implements the per-client input buffer, action-diff buffer,
// and input-message transport described in spec.md §4.9: a tick-indexed
// ring of action snapshots, diffs derived from consecutive snapshots, and a
// redundantly-encoded InputMessage that survives several dropped datagrams.
package input

import (
	"github.com/tickreplica/engine/pkg/tick"
)

// Buffer is a tick-indexed ring of per-tick snapshots of type A, dense over
// [StartTick, StartTick+len) once Set has been called at least once
// (spec.md §3's InputBuffer<A> and §8's density invariant).
type Buffer[A any] struct {
	startTick tick.Tick
	hasStart  bool
	entries   []A
}

// NewBuffer returns an empty input buffer.
func NewBuffer[A any]() *Buffer[A] {
	return &Buffer[A]{}
}

// Set writes snapshot at t, extending the ring (and back-filling any new
// gap by repeating the previous tail entry, satisfying the "same-as-
// previous" density invariant) or overwriting an existing entry in place.
func (b *Buffer[A]) Set(t tick.Tick, snapshot A) {
	if !b.hasStart {
		b.startTick = t
		b.hasStart = true
		b.entries = append(b.entries, snapshot)
		return
	}

	idx := int(t.Diff(b.startTick))
	switch {
	case idx < 0:
		// t precedes the ring; shift the start back and pad with the
		// current first entry so density holds.
		shift := -idx
		first := b.entries[0]
		padded := make([]A, shift, shift+len(b.entries))
		for i := range padded {
			padded[i] = first
		}
		b.entries = append(padded, b.entries...)
		b.startTick = t
		b.entries[0] = snapshot
	case idx < len(b.entries):
		b.entries[idx] = snapshot
	default:
		last := b.entries[len(b.entries)-1]
		for len(b.entries) < idx {
			b.entries = append(b.entries, last)
		}
		b.entries = append(b.entries, snapshot)
	}
}

// Get returns the snapshot at t, or false if t falls outside the buffer.
func (b *Buffer[A]) Get(t tick.Tick) (A, bool) {
	var zero A
	if !b.hasStart {
		return zero, false
	}
	idx := int(t.Diff(b.startTick))
	if idx < 0 || idx >= len(b.entries) {
		return zero, false
	}
	return b.entries[idx], true
}

// Pop drops every entry with tick strictly older than upToTick
// (spec.md §4.9's cleanup step).
func (b *Buffer[A]) Pop(upToTick tick.Tick) {
	if !b.hasStart {
		return
	}
	drop := int(upToTick.Diff(b.startTick))
	if drop <= 0 {
		return
	}
	if drop >= len(b.entries) {
		b.entries = nil
		b.hasStart = false
		return
	}
	b.entries = b.entries[drop:]
	b.startTick = b.startTick.Add(drop)
}

// Shift moves StartTick by delta, used when a tick snap re-bases every
// tick-indexed structure (spec.md §4.10).
func (b *Buffer[A]) Shift(delta int) {
	if !b.hasStart {
		return
	}
	b.startTick = b.startTick.Add(delta)
}

// StartTick reports the ring's earliest tick, for diagnostics and tests.
func (b *Buffer[A]) StartTick() (tick.Tick, bool) {
	return b.startTick, b.hasStart
}

// Len reports how many ticks the ring currently spans.
func (b *Buffer[A]) Len() int {
	return len(b.entries)
}
