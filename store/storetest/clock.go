package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/store"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ClockedFactory returns an empty, migrated store whose time source is
// now.
type ClockedFactory func(t *testing.T, now func() time.Time) store.Store

// RunClocked executes the time boundary cases against stores that take
// their time from the process clock.
func RunClocked(t *testing.T, newStore ClockedFactory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store, clock *Clock)
	}{
		{"DueAtRunAfter", testDueAtRunAfter},
		{"StaleAtBoundary", testStaleAtBoundary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
			tt.fn(t, newStore(t, clock.Now), clock)
		})
	}
}

func testDueAtRunAfter(t *testing.T, s store.Store, clock *Clock) {
	w := newWritable(t, s)
	runAfter := clock.Now().Add(time.Minute)
	w.RunAfter = &runAfter
	if err := s.EnqueueJob(context.Background(), "", w); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	worker := registerWorker(t, s)

	clock.Advance(time.Minute - time.Millisecond)
	if got := claim(t, s, worker, 1, time.Minute); len(got) != 0 {
		t.Fatalf("claimed before run_after: %v", ids(got))
	}
	clock.Advance(time.Millisecond)
	if got := claim(t, s, worker, 1, time.Minute); len(got) != 1 || got[0].JobID != w.JobID {
		t.Fatalf("claim at run_after got %v, want %s", ids(got), w.JobID)
	}
}

func testStaleAtBoundary(t *testing.T, s store.Store, clock *Clock) {
	const staleAfter = 30 * time.Second

	first := registerWorker(t, s)
	second := registerWorker(t, s)
	w := enqueueN(t, s, 1)[0]

	if got := claim(t, s, first, 1, staleAfter); len(got) != 1 {
		t.Fatalf("first claim got %d", len(got))
	}

	clock.Advance(staleAfter - time.Millisecond)
	if got := claim(t, s, second, 1, staleAfter); len(got) != 0 {
		t.Fatalf("reclaimed before stale: %v", ids(got))
	}

	clock.Advance(time.Millisecond)
	got := claim(t, s, second, 1, staleAfter)
	if len(got) != 1 || got[0].JobID != w {
		t.Fatalf("claim at stale boundary got %v, want %s", ids(got), w)
	}
	if got[0].Status != distributed.StatusProcessing || got[0].Owner() != first {
		t.Errorf("snapshot = %s owner=%q, want processing by %q", got[0].Status, got[0].Owner(), first)
	}
}
