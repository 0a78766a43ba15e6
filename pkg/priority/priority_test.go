package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tickreplica/engine/pkg/wire"
)

func candidate(priority float32, size int, isUpdate bool) Candidate {
	return Candidate{
		Message:             wire.SendMessage{Priority: priority},
		Size:                size,
		IsReplicationUpdate: isUpdate,
	}
}

func TestDisabledLimiterAdmitsEverything(t *testing.T) {
	l := NewLimiter(false, 100)
	out := l.PriorityFilter(time.Unix(0, 0), []Candidate{
		candidate(1, 1000, true),
		candidate(2, 1000, false),
	})
	require.Len(t, out.Admitted, 2)
	require.Empty(t, out.Dropped)
	require.Empty(t, out.Requeue)
}

func TestPriorityFilterGreedyBySizeAndPriority(t *testing.T) {
	l := NewLimiter(true, 100)
	now := time.Unix(0, 0)

	out := l.PriorityFilter(now, []Candidate{
		candidate(1, 60, true),  // lower priority, sorted after the other
		candidate(5, 60, false), // highest priority, admitted
	})
	// Highest priority (5) admitted first (60 bytes), leaving 40 tokens;
	// the 60-byte low-priority candidate doesn't fit.
	require.Len(t, out.Admitted, 1)
	require.Equal(t, float32(5), out.Admitted[0].Message.Priority)
	require.Equal(t, 60, out.BytesAdmitted)
}

func TestPriorityFilterDropsUpdatesRequeuesOthers(t *testing.T) {
	l := NewLimiter(true, 10)
	now := time.Unix(0, 0)

	out := l.PriorityFilter(now, []Candidate{
		candidate(1, 100, true),  // replication update, too big -> dropped
		candidate(2, 100, false), // non-replication, too big -> requeued
	})
	require.Empty(t, out.Admitted)
	require.Len(t, out.Dropped, 1)
	require.Len(t, out.Requeue, 1)
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := NewLimiter(true, 100)
	start := time.Unix(0, 0)
	l.PriorityFilter(start, []Candidate{candidate(1, 100, false)}) // drains to 0

	out := l.PriorityFilter(start.Add(500*time.Millisecond), []Candidate{candidate(1, 40, false)})
	require.Len(t, out.Admitted, 1, "half a second at 100B/s should refill 50 tokens")
}

func TestReconcileAdjustsTokens(t *testing.T) {
	l := NewLimiter(true, 1000)
	l.PriorityFilter(time.Unix(0, 0), nil)
	before := l.Tokens()
	l.Reconcile(50, 80)
	require.Equal(t, before-30, l.Tokens())
}
