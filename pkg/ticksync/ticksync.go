// Package ticksync implements the tick/time/sync manager described in
// spec.md §4.10: a fixed-schedule tick counter that, on a forced
// resynchronization jump, shifts every registered tick-indexed structure's
// start tick by the same delta so input buffers, diff buffers, and
// replication group state stay consistent with the new tick base.
package ticksync

import (
	"sync"
	"time"

	"github.com/tickreplica/engine/pkg/logging"
	"github.com/tickreplica/engine/pkg/tick"
	"go.uber.org/zap"
)

// Config configures a Manager.
type Config struct {
	// TickDuration is the fixed simulation step.
	TickDuration time.Duration
}

// Shiftable is any tick-indexed structure that must re-base itself when a
// TickSnap occurs (input.Buffer, input.DiffBuffer, replication group state
// wrappers, or host-defined equivalents).
type Shiftable interface {
	Shift(delta int)
}

// Manager owns the current simulation tick and distributes TickSnap events
// to every registered Shiftable when resync forces a jump (spec.md §4.10).
type Manager struct {
	mu  sync.Mutex
	cfg Config

	currentTick tick.Tick
	shiftables  []Shiftable
}

// NewManager constructs a Manager starting at tick 0.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Register adds s to the set of structures shifted on every TickSnap.
// Registration order has no effect on correctness since each Shiftable only
// sees its own delta.
func (m *Manager) Register(s Shiftable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shiftables = append(m.shiftables, s)
}

// CurrentTick returns the manager's current simulation tick.
func (m *Manager) CurrentTick() tick.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTick
}

// Advance steps the simulation forward by one fixed tick and returns the new
// current tick.
func (m *Manager) Advance() tick.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTick = m.currentTick.Add(1)
	return m.currentTick
}

// TickDuration returns the configured fixed-step duration.
func (m *Manager) TickDuration() time.Duration {
	return m.cfg.TickDuration
}

// ApplySnap forces the simulation tick to newTick and shifts every
// registered Shiftable by the resulting delta, matching lightyear's
// TickEvent::TickSnap handling.
func (m *Manager) ApplySnap(newTick tick.Tick) tick.Snap {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := tick.Snap{Old: m.currentTick, New: newTick}
	delta := snap.Shift()
	m.currentTick = newTick
	for _, s := range m.shiftables {
		s.Shift(int(delta))
	}

	logging.Debug("tick snap applied",
		zap.Uint16("old_tick", uint16(snap.Old)),
		zap.Uint16("new_tick", uint16(snap.New)))
	return snap
}
