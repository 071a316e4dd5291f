package local

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/queuesched/backend"
	"github.com/xraph/queuesched/job"
)

// newVirtualBackend returns a started backend whose ticker never fires
// during a test, so time only advances through processDue.
func newVirtualBackend(t *testing.T, handler backend.ExecuteFunc) *Backend {
	t.Helper()
	b := New(WithInterval(time.Hour))
	if err := b.Start(context.Background(), backend.StartOptions{ExecuteHandler: handler}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestProcessDue_DispatchesSubmittedJobOnce(t *testing.T) {
	received := make(chan job.Job, 4)
	b := newVirtualBackend(t, func(_ context.Context, j job.Job) error {
		received <- j
		return nil
	})

	submitted := job.New("greet", json.RawMessage(`{"name":"Alice"}`))
	if _, err := b.Submit(context.Background(), submitted, backend.SubmitOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	start := time.Now()
	if n := b.processDue(start.Add(DefaultInterval)); n != 1 {
		t.Fatalf("dispatched %d, want 1", n)
	}

	select {
	case got := <-received:
		if got.ID != submitted.ID || got.Name != submitted.Name || string(got.Context) != string(submitted.Context) {
			t.Errorf("handler got %+v, want %+v", got, submitted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	if n := b.processDue(start.Add(2 * DefaultInterval)); n != 0 {
		t.Fatalf("second tick dispatched %d, want 0", n)
	}
	select {
	case got := <-received:
		t.Fatalf("handler invoked twice, second with %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessDue_DispatchesConcurrently(t *testing.T) {
	var (
		calls   atomic.Int32
		release = make(chan struct{})
		both    sync.WaitGroup
	)
	both.Add(2)

	b := newVirtualBackend(t, func(_ context.Context, _ job.Job) error {
		calls.Add(1)
		both.Done()
		// Neither call returns until both have started.
		<-release
		return nil
	})

	for _, name := range []string{"a", "b"} {
		if _, err := b.Submit(context.Background(), job.New(name, nil), backend.SubmitOptions{}); err != nil {
			t.Fatalf("submit %s: %v", name, err)
		}
	}

	if n := b.processDue(time.Now()); n != 2 {
		t.Fatalf("dispatched %d, want 2", n)
	}

	started := make(chan struct{})
	go func() {
		both.Wait()
		close(started)
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers were serialized")
	}
	close(release)

	if got := calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}

func TestProcessDue_HonoursAfter(t *testing.T) {
	var calls atomic.Int32
	b := newVirtualBackend(t, func(_ context.Context, _ job.Job) error {
		calls.Add(1)
		return nil
	})

	now := time.Now()
	id, err := b.Submit(context.Background(), job.New("later", nil), backend.SubmitOptions{After: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if n := b.processDue(now.Add(30 * time.Second)); n != 0 {
		t.Fatalf("dispatched %d before due, want 0", n)
	}
	if ok, _ := b.IsScheduled(context.Background(), id); !ok {
		t.Fatal("expected entry to stay scheduled before due")
	}

	if n := b.processDue(now.Add(time.Minute)); n != 1 {
		t.Fatalf("dispatched %d at due time, want 1", n)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })

	if ok, _ := b.IsScheduled(context.Background(), id); ok {
		t.Fatal("expected entry to be gone after dispatch")
	}
}

func TestCancel(t *testing.T) {
	var calls atomic.Int32
	b := newVirtualBackend(t, func(_ context.Context, _ job.Job) error {
		calls.Add(1)
		return nil
	})
	ctx := context.Background()

	keep, _ := b.Submit(ctx, job.New("keep", nil), backend.SubmitOptions{})
	drop, _ := b.Submit(ctx, job.New("drop", nil), backend.SubmitOptions{})

	if err := b.Cancel(ctx, drop); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := b.Cancel(ctx, "unknown"); err != nil {
		t.Fatalf("cancel unknown: %v", err)
	}

	if ok, _ := b.IsScheduled(ctx, drop); ok {
		t.Error("cancelled entry still scheduled")
	}
	if ok, _ := b.IsScheduled(ctx, keep); !ok {
		t.Error("kept entry not scheduled")
	}

	if n := b.processDue(time.Now()); n != 1 {
		t.Fatalf("dispatched %d, want 1", n)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestShutdown_KeepsEntriesInert(t *testing.T) {
	var calls atomic.Int32
	handler := func(_ context.Context, _ job.Job) error {
		calls.Add(1)
		return nil
	}
	b := New(WithInterval(time.Hour))
	ctx := context.Background()

	if err := b.Start(ctx, backend.StartOptions{ExecuteHandler: handler}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// Second shutdown is a no-op.
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if _, err := b.Submit(ctx, job.New("parked", nil), backend.SubmitOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := b.processDue(time.Now()); n != 0 {
		t.Fatalf("dispatched %d while stopped, want 0", n)
	}
	if b.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", b.Pending())
	}

	if err := b.Start(ctx, backend.StartOptions{ExecuteHandler: handler}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer func() { _ = b.Shutdown(ctx) }()

	if n := b.processDue(time.Now()); n != 1 {
		t.Fatalf("dispatched %d after restart, want 1", n)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestStart_Twice_RunsSingleLoop(t *testing.T) {
	var calls atomic.Int32
	handler := func(_ context.Context, _ job.Job) error {
		calls.Add(1)
		return nil
	}
	b := New(WithInterval(10 * time.Millisecond))
	ctx := context.Background()

	if err := b.Start(ctx, backend.StartOptions{ExecuteHandler: handler}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Start(ctx, backend.StartOptions{ExecuteHandler: handler}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	defer func() { _ = b.Shutdown(ctx) }()

	for range 20 {
		if _, err := b.Submit(ctx, job.New("tick", nil), backend.SubmitOptions{}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	waitFor(t, func() bool { return calls.Load() == 20 })
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 20 {
		t.Errorf("handler calls = %d, want exactly 20", got)
	}
}

func TestStart_NilHandler(t *testing.T) {
	b := New()
	if err := b.Start(context.Background(), backend.StartOptions{}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestRun_ErrorsAndPanicsAreContained(t *testing.T) {
	var calls atomic.Int32
	b := newVirtualBackend(t, func(_ context.Context, j job.Job) error {
		calls.Add(1)
		if j.Name == "panic" {
			panic("boom")
		}
		return errors.New("fail")
	})
	ctx := context.Background()

	_, _ = b.Submit(ctx, job.New("panic", nil), backend.SubmitOptions{})
	_, _ = b.Submit(ctx, job.New("error", nil), backend.SubmitOptions{})

	if n := b.processDue(time.Now()); n != 2 {
		t.Fatalf("dispatched %d, want 2", n)
	}
	waitFor(t, func() bool { return calls.Load() == 2 })
	if b.Pending() != 0 {
		t.Errorf("failed jobs must not be requeued, pending = %d", b.Pending())
	}
}
