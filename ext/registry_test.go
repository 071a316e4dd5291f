package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/queuesched/ext"
	"github.com/xraph/queuesched/job"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobScheduled(_ context.Context, _ job.Job, _, _ string) error {
	e.calls = append(e.calls, "OnJobScheduled")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// scheduleOnlyExt only implements the scheduling hook.
type scheduleOnlyExt struct {
	queue, backend string
	calls          int
}

func (e *scheduleOnlyExt) Name() string { return "schedule-only" }

func (e *scheduleOnlyExt) OnJobScheduled(_ context.Context, _ job.Job, queue, backend string) error {
	e.calls++
	e.queue, e.backend = queue, backend
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobScheduled(_ context.Context, _ job.Job, _, _ string) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func TestRegistry_Register(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	so := &scheduleOnlyExt{}
	r.Register(all)
	r.Register(so)

	ctx := context.Background()
	j := job.New("test-job", nil)

	r.EmitJobScheduled(ctx, j, "general", "local")
	if len(all.calls) != 1 || all.calls[0] != "OnJobScheduled" {
		t.Fatalf("all: expected [OnJobScheduled], got %v", all.calls)
	}
	if so.calls != 1 || so.queue != "general" || so.backend != "local" {
		t.Fatalf("schedule-only: calls=%d queue=%q backend=%q", so.calls, so.queue, so.backend)
	}

	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if so.calls != 1 {
		t.Fatalf("schedule-only: should still have 1 call, got %d", so.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := job.New("test-job", nil)

	r.EmitJobScheduled(ctx, j, "general", "local")
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobScheduled", "OnJobStarted", "OnJobCompleted", "OnJobFailed", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobScheduled(ctx, job.New("test-job", nil), "general", "local")
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitJobScheduled(ctx, job.Job{}, "", "")
	r.EmitJobStarted(ctx, job.Job{})
	r.EmitJobCompleted(ctx, job.Job{}, time.Second)
	r.EmitJobFailed(ctx, job.Job{}, errors.New("x"))
	r.EmitShutdown(ctx)
}
