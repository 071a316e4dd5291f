package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/store"
	"github.com/xraph/queuesched/store/memory"
	"github.com/xraph/queuesched/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
	storetest.RunClocked(t, func(_ *testing.T, now func() time.Time) store.Store {
		return memory.New(memory.WithClock(now))
	})
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestClock_RunAfterAndStaleness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(clock.Now))

	runAfter := clock.Now().Add(time.Minute)
	if err := s.EnqueueJob(ctx, "", distributed.WritableJob{JobID: "j1", JobName: "n", RunAfter: &runAfter}); err != nil {
		t.Fatal(err)
	}

	a, _ := s.RegisterWorker(ctx)
	b, _ := s.RegisterWorker(ctx)

	if got, _ := s.ClaimOwnership(ctx, a, 1, time.Minute); len(got) != 0 {
		t.Fatalf("claimed before run_after: %d", len(got))
	}

	clock.Advance(time.Minute)
	if got, _ := s.ClaimOwnership(ctx, a, 1, time.Minute); len(got) != 1 {
		t.Fatalf("not claimed at run_after: %d", len(got))
	}

	clock.Advance(59 * time.Second)
	if got, _ := s.ClaimOwnership(ctx, b, 1, time.Minute); len(got) != 0 {
		t.Fatal("reclaimed before stale")
	}

	clock.Advance(2 * time.Second)
	got, _ := s.ClaimOwnership(ctx, b, 1, time.Minute)
	if len(got) != 1 || got[0].Owner() != a {
		t.Fatalf("stale reclaim = %+v", got)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestGetJob_ReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	if err := s.EnqueueJob(ctx, "", distributed.WritableJob{JobID: "j1", JobName: "n", JobContext: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}

	j, _ := s.GetJob(ctx, "j1")
	j.Status = distributed.StatusErrored
	j.JobContext[0] = 'x'

	again, _ := s.GetJob(ctx, "j1")
	if again.Status != distributed.StatusScheduled || string(again.JobContext) != `{}` {
		t.Errorf("store mutated through copy: %+v", again)
	}
}
