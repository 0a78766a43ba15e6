// Package priority implements the token-bucket rate limiter and admission
// policy described in spec.md §4.5: candidate messages are sorted by
// descending priority and greedily admitted until the bucket runs dry.
package priority

import (
	"sort"
	"time"

	"github.com/tickreplica/engine/pkg/wire"
)

// Candidate is one message waiting to be admitted into this tick's flush,
// tagged with enough context for the drop-vs-requeue policy.
type Candidate struct {
	Channel             wire.ChannelID
	Message             wire.SendMessage
	Size                int
	IsReplicationUpdate bool
}

// Outcome is the result of running the filter over one tick's candidates.
type Outcome struct {
	Admitted []Candidate
	// Dropped are replication-update candidates that did not fit; they are
	// not re-queued. A replication sender with BandwidthCapEnabled advances
	// send_tick only for updates that get packed, so the changes behind a
	// dropped update are still due; with the cap disabled, send_tick has
	// already advanced at flush time.
	Dropped []Candidate
	// Requeue are non-replication candidates that did not fit and should
	// be pushed back onto their channel's send queue for next tick.
	Requeue []Candidate
	// BytesAdmitted is the total size of Admitted, for the caller to
	// reconcile against the actual bytes once packets are built.
	BytesAdmitted int
}

// Limiter is a token-bucket rate limiter. When disabled, PriorityFilter
// admits everything unconditionally (spec.md §4.5).
type Limiter struct {
	enabled         bool
	bytesPerSecond  float64
	tokens          float64
	capacity        float64
	lastRefillAt    time.Time
	haveLastRefill  bool
}

// NewLimiter constructs a Limiter. bytesPerSecond also serves as the
// bucket's capacity (burst is bounded to one second's worth of budget).
func NewLimiter(enabled bool, bytesPerSecond float64) *Limiter {
	return &Limiter{
		enabled:        enabled,
		bytesPerSecond: bytesPerSecond,
		tokens:         bytesPerSecond,
		capacity:       bytesPerSecond,
	}
}

// SetEnabled toggles the limiter at runtime, matching spec.md §6.5's
// priority.enabled knob.
func (l *Limiter) SetEnabled(enabled bool) {
	l.enabled = enabled
}

// Enabled reports whether the limiter currently gates admission.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

func (l *Limiter) refill(now time.Time) {
	if !l.haveLastRefill {
		l.lastRefillAt = now
		l.haveLastRefill = true
		return
	}
	elapsed := now.Sub(l.lastRefillAt).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.bytesPerSecond
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefillAt = now
}

// PriorityFilter sorts candidates by descending priority and greedily
// admits them while tokens remain, applying the drop-vs-requeue policy to
// anything that doesn't fit (spec.md §4.5).
func (l *Limiter) PriorityFilter(now time.Time, candidates []Candidate) Outcome {
	l.refill(now)

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Message.Priority > sorted[j].Message.Priority
	})

	var out Outcome
	for _, c := range sorted {
		if !l.enabled || float64(c.Size) <= l.tokens {
			if l.enabled {
				l.tokens -= float64(c.Size)
			}
			out.Admitted = append(out.Admitted, c)
			out.BytesAdmitted += c.Size
			continue
		}
		if c.IsReplicationUpdate {
			out.Dropped = append(out.Dropped, c)
		} else {
			out.Requeue = append(out.Requeue, c)
		}
	}
	return out
}

// Reconcile adjusts the bucket once the actual bytes written to the wire
// are known (packet headers add overhead PriorityFilter's candidate sizes
// didn't account for), matching the message manager's end-of-flush
// reconciliation step (spec.md §4.6).
func (l *Limiter) Reconcile(estimated, actual int) {
	if !l.enabled {
		return
	}
	diff := float64(actual - estimated)
	l.tokens -= diff
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}

// Tokens reports the current bucket level, mostly for diagnostics/tests.
func (l *Limiter) Tokens() float64 {
	return l.tokens
}
