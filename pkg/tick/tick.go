// Package tick implements the wrapping 16-bit counters used throughout the
// transport and replication engine (simulation ticks, packet ids, message
// ids) and the tick-snap event emitted when the sync manager forces a jump.
package tick

// Tick is a wrapping 16-bit logical simulation step counter. Ordering
// between two ticks is defined by the signed 16-bit difference, not by
// unsigned comparison, so that the counter can wrap around without breaking
// "happened before" queries.
type Tick uint16

// Diff returns a-b interpreted as a signed 16-bit difference: positive when
// a is ahead of b, negative when a is behind b.
func (a Tick) Diff(b Tick) int16 {
	return int16(a - b)
}

// After reports whether a is strictly ahead of b, wrap-aware.
func (a Tick) After(b Tick) bool {
	return a.Diff(b) > 0
}

// AtOrAfter reports whether a is at or ahead of b, wrap-aware.
func (a Tick) AtOrAfter(b Tick) bool {
	return a.Diff(b) >= 0
}

// Before reports whether a is strictly behind b, wrap-aware.
func (a Tick) Before(b Tick) bool {
	return a.Diff(b) < 0
}

// Add returns the tick n steps ahead, wrapping as needed. n may be negative.
func (a Tick) Add(n int) Tick {
	return Tick(int32(a) + int32(n))
}

// Sub returns the number of ticks from b to a (a.Diff(b), spelled out for
// call sites that read more naturally as subtraction).
func (a Tick) Sub(b Tick) int16 {
	return a.Diff(b)
}

// PacketId is a monotonic 16-bit wrapping identifier assigned to each
// outgoing datagram.
type PacketId uint16

func (a PacketId) After(b PacketId) bool {
	return int16(a-b) > 0
}

func (a PacketId) Add(n int) PacketId {
	return PacketId(int32(a) + int32(n))
}

// MessageId is a monotonic 16-bit wrapping identifier assigned per logical
// message within a channel that requires identification (fragments or
// reliability).
type MessageId uint16

func (a MessageId) After(b MessageId) bool {
	return int16(a-b) > 0
}

func (a MessageId) Add(n int) MessageId {
	return MessageId(int32(a) + int32(n))
}

// FragmentIndex indexes a fragment within a fragmented message. num_fragments
// fits in a byte, so at most 255 fragments per message.
type FragmentIndex = uint8

// Event is the set of notifications the tick/sync manager can raise.
type Event interface {
	isTickEvent()
}

// Snap is emitted when the sync manager forces a resynchronization jump;
// every tick-indexed structure (input buffer, action-diff buffer,
// replication group state) must shift its start tick by New-Old.
type Snap struct {
	Old Tick
	New Tick
}

func (Snap) isTickEvent() {}

// Shift is the amount every tick-indexed structure should add to its
// internally stored ticks to stay consistent with this snap.
func (s Snap) Shift() int16 {
	return s.New.Diff(s.Old)
}
