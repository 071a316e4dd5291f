package queuesched_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xraph/queuesched"
	"github.com/xraph/queuesched/backend"
	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/backend/local"
	"github.com/xraph/queuesched/job"
	mw "github.com/xraph/queuesched/middleware"
	"github.com/xraph/queuesched/queue"
	"github.com/xraph/queuesched/store/memory"
)

type email struct {
	To string `json:"to"`
}

// fakeBackend records submissions and hands back the execute handler it
// was started with.
type fakeBackend struct {
	mu        sync.Mutex
	startErr  error
	started   bool
	shutdowns int
	handler   backend.ExecuteFunc
	submitted []backend.SubmitOptions
	cancelled []string
}

func (f *fakeBackend) Start(_ context.Context, opts backend.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.handler = opts.ExecuteHandler
	return nil
}

func (f *fakeBackend) Submit(_ context.Context, j job.Job, opts backend.SubmitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, opts)
	return "fake-" + j.ID, nil
}

func (f *fakeBackend) IsScheduled(context.Context, string) (bool, error) { return true, nil }

func (f *fakeBackend) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBackend) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	f.started = false
	return nil
}

func (f *fakeBackend) submissions() []backend.SubmitOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.SubmitOptions(nil), f.submitted...)
}

func (f *fakeBackend) execute() backend.ExecuteFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func newScheduler(t *testing.T, opts ...queuesched.Option) *queuesched.Scheduler {
	t.Helper()
	opts = append([]queuesched.Option{
		queuesched.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	s, err := queuesched.New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
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

func TestNew_RegistersDefaultQueue(t *testing.T) {
	s := newScheduler(t)
	if got := s.DefaultQueue().Name; got != queuesched.DefaultQueueName {
		t.Fatalf("DefaultQueue = %q, want %q", got, queuesched.DefaultQueueName)
	}
	if _, ok := s.Queues()[queuesched.DefaultQueueName]; !ok {
		t.Fatal("default queue missing from Queues()")
	}

	custom := newScheduler(t, queuesched.WithDefaultQueue("main"))
	if got := custom.DefaultQueue().Name; got != "main" {
		t.Fatalf("DefaultQueue = %q, want main", got)
	}
}

func TestNew_RejectsEmptyDefaultQueue(t *testing.T) {
	_, err := queuesched.New(queuesched.WithDefaultQueue(""))
	if !errors.Is(err, queuesched.ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

func TestLocalBackend_RunsTypedJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	lb := local.New(local.WithInterval(time.Hour), local.WithClock(clock))
	s := newScheduler(t)
	if err := s.RegisterBackend("local", lb); err != nil {
		t.Fatal(err)
	}

	got := make(chan email, 1)
	emails, err := queuesched.Register(s, "send-email", func(_ context.Context, in email) error {
		got <- in
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	qj, err := emails.Make(email{To: "a@example.com"}).Schedule(ctx, queuesched.After(now.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if qj.Backend != "local" || qj.Queue.Name != queuesched.DefaultQueueName {
		t.Fatalf("QueuedJob = %+v", qj)
	}

	if n := lb.Tick(); n != 0 {
		t.Fatalf("dispatched %d before due, want 0", n)
	}
	if ok, _ := qj.IsScheduled(ctx); !ok {
		t.Fatal("expected job to be scheduled")
	}

	clockMu.Lock()
	now = now.Add(time.Minute)
	clockMu.Unlock()

	if n := lb.Tick(); n != 1 {
		t.Fatalf("dispatched %d, want 1", n)
	}
	select {
	case in := <-got:
		if in.To != "a@example.com" {
			t.Fatalf("payload = %+v", in)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not run")
	}
	if ok, _ := qj.IsScheduled(ctx); ok {
		t.Fatal("expected job to have left the backend")
	}
}

func TestQueuedJob_Cancel(t *testing.T) {
	lb := local.New(local.WithInterval(time.Hour))
	s := newScheduler(t)
	_ = s.RegisterBackend("local", lb)

	var ran bool
	m, err := s.RegisterJob("noop", func(context.Context, job.Job) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	qj, err := m.Schedule(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := qj.Cancel(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := qj.IsScheduled(ctx); ok {
		t.Fatal("cancelled job still scheduled")
	}
	if n := lb.Tick(); n != 0 || ran {
		t.Fatalf("cancelled job ran (dispatched %d)", n)
	}
}

func TestSchedule_Resolution(t *testing.T) {
	a, b := &fakeBackend{}, &fakeBackend{}
	s := newScheduler(t)
	if err := s.RegisterBackend("a", a); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterBackend("b", b); err != nil {
		t.Fatal(err)
	}
	if got := s.DefaultBackend(); got != "a" {
		t.Fatalf("DefaultBackend = %q, want a", got)
	}
	if _, err := s.RegisterQueue("on-b", queue.WithBackend("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterQueue("on-missing", queue.WithBackend("missing")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterQueue("plain"); err != nil {
		t.Fatal(err)
	}

	m, err := queuesched.Register(s, "work", func(context.Context, int) error { return nil },
		job.WithDefaultQueue("on-b"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name        string
		opts        []queuesched.ScheduleOption
		wantBackend string
		wantQueue   string
		wantErr     error
	}{
		{name: "job default queue", wantBackend: "b", wantQueue: "on-b"},
		{name: "explicit queue without backend", opts: []queuesched.ScheduleOption{queuesched.On("plain")}, wantBackend: "a", wantQueue: "plain"},
		{name: "explicit default queue", opts: []queuesched.ScheduleOption{queuesched.On(queuesched.DefaultQueueName)}, wantBackend: "a", wantQueue: queuesched.DefaultQueueName},
		{name: "unknown backend", opts: []queuesched.ScheduleOption{queuesched.On("on-missing")}, wantErr: queuesched.ErrBackendNotRegistered},
		{name: "unknown queue", opts: []queuesched.ScheduleOption{queuesched.On("nope")}, wantErr: queuesched.ErrQueueNotRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qj, err := m.Schedule(ctx, 1, tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if qj.Backend != tt.wantBackend || qj.Queue.Name != tt.wantQueue {
				t.Fatalf("got backend %q queue %q, want %q %q", qj.Backend, qj.Queue.Name, tt.wantBackend, tt.wantQueue)
			}
		})
	}

	subs := b.submissions()
	if len(subs) != 1 || subs[0].Queue != "on-b" {
		t.Fatalf("backend b submissions = %+v", subs)
	}
}

func TestSchedule_NoDefaultBackend(t *testing.T) {
	s := newScheduler(t)
	m, err := queuesched.Register(s, "work", func(context.Context, int) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Schedule(context.Background(), 1); !errors.Is(err, queuesched.ErrNoDefaultBackend) {
		t.Fatalf("err = %v, want ErrNoDefaultBackend", err)
	}
}

func TestSchedule_DelayPassesRunAfter(t *testing.T) {
	fb := &fakeBackend{}
	s := newScheduler(t)
	_ = s.RegisterBackend("fake", fb)
	m, _ := queuesched.Register(s, "work", func(context.Context, int) error { return nil })

	before := time.Now()
	qj, err := m.Schedule(context.Background(), 1, queuesched.Delay(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if qj.ID == "" {
		t.Fatal("expected backend id")
	}
	subs := fb.submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	if subs[0].After.Before(before.Add(time.Hour)) {
		t.Fatalf("After = %v, want >= %v", subs[0].After, before.Add(time.Hour))
	}
}

func TestRegister_CollisionsAreSideEffectFree(t *testing.T) {
	s := newScheduler(t)
	first, second := &fakeBackend{}, &fakeBackend{}

	if err := s.RegisterBackend("x", first); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterBackend("x", second); !errors.Is(err, queuesched.ErrBackendAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrBackendAlreadyRegistered", err)
	}
	if got, _ := s.Backend("x"); got != first {
		t.Fatal("backend replaced on collision")
	}
	if err := s.RegisterBackend("", first); !errors.Is(err, queuesched.ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}

	if _, err := s.RegisterQueue("q", queue.WithBackend("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterQueue("q"); !errors.Is(err, queuesched.ErrQueueAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrQueueAlreadyRegistered", err)
	}
	if q, _ := s.Queue("q"); q.Backend != "x" {
		t.Fatal("queue replaced on collision")
	}

	calls := make(chan string, 2)
	if _, err := queuesched.Register(s, "j", func(context.Context, int) error {
		calls <- "first"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := queuesched.Register(s, "j", func(context.Context, string) error {
		calls <- "second"
		return nil
	}, job.WithDefaultQueue("does-not-exist")); !errors.Is(err, queuesched.ErrJobAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrJobAlreadyRegistered", err)
	}
	if _, err := queuesched.Register(s, "k", func(context.Context, int) error { return nil },
		job.WithDefaultQueue("does-not-exist")); !errors.Is(err, queuesched.ErrQueueNotRegistered) {
		t.Fatalf("err = %v, want ErrQueueNotRegistered", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "j" {
		t.Fatalf("Jobs = %v, want [j]", got)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := first.execute()(ctx, job.New("j", []byte(`1`))); err != nil {
		t.Fatal(err)
	}
	if got := <-calls; got != "first" {
		t.Fatalf("handler = %q, want first", got)
	}
}

func TestStart_FailureRollsBackStartedBackends(t *testing.T) {
	ok := &fakeBackend{}
	bad := &fakeBackend{startErr: errors.New("boom")}
	s := newScheduler(t)
	_ = s.RegisterBackend("ok", ok)
	_ = s.RegisterBackend("bad", bad)

	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}
	if ok.started {
		t.Fatal("started backend was not shut down")
	}
	if ok.shutdowns != 1 {
		t.Fatalf("shutdowns = %d, want 1", ok.shutdowns)
	}
	if bad.shutdowns != 0 {
		t.Fatal("failed backend should not be shut down")
	}
}

func TestShutdown_Repeatable(t *testing.T) {
	fb := &fakeBackend{}
	s := newScheduler(t)
	_ = s.RegisterBackend("fake", fb)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := s.Shutdown(ctx); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDispatch_UnknownJob(t *testing.T) {
	fb := &fakeBackend{}
	s := newScheduler(t)
	_ = s.RegisterBackend("fake", fb)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := fb.execute()(context.Background(), job.New("missing", nil))
	if !errors.Is(err, queuesched.ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestDispatch_PropagatesHandlerFailure(t *testing.T) {
	fb := &fakeBackend{}
	s := newScheduler(t)
	_ = s.RegisterBackend("fake", fb)

	boom := errors.New("boom")
	if _, err := queuesched.Register(s, "fails", func(context.Context, int) error { return boom }); err != nil {
		t.Fatal(err)
	}
	if _, err := queuesched.Register(s, "panics", func(context.Context, int) error { panic("oops") }); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	exec := fb.execute()
	if err := exec(context.Background(), job.New("fails", []byte(`1`))); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := exec(context.Background(), job.New("panics", []byte(`1`))); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if err := exec(context.Background(), job.New("fails", []byte(`"not a number"`))); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDispatch_JobTimeout(t *testing.T) {
	fb := &fakeBackend{}
	s := newScheduler(t)
	_ = s.RegisterBackend("fake", fb)

	_, err := queuesched.Register(s, "slow", func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}, job.WithTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err = fb.execute()(context.Background(), job.New("slow", []byte(`1`)))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestDispatch_HandlerSeesJobInContext(t *testing.T) {
	fb := &fakeBackend{}
	s := newScheduler(t)
	_ = s.RegisterBackend("fake", fb)

	seen := make(chan job.Job, 1)
	_, _ = s.RegisterJob("raw", func(ctx context.Context, j job.Job) error {
		fromCtx, _ := job.FromContext(ctx)
		if fromCtx.ID != j.ID {
			return errors.New("context job mismatch")
		}
		seen <- j
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	j := job.New("raw", []byte(`{"a":1}`))
	if err := fb.execute()(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if got := <-seen; string(got.Context) != `{"a":1}` {
		t.Fatalf("Context = %s", got.Context)
	}
}

type recordingExt struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingExt) Name() string { return "recording" }

func (r *recordingExt) record(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingExt) OnJobScheduled(_ context.Context, j job.Job, q, b string) error {
	r.record("scheduled:" + j.Name + ":" + q + ":" + b)
	return nil
}

func (r *recordingExt) OnJobStarted(_ context.Context, j job.Job) error {
	r.record("started:" + j.Name)
	return nil
}

func (r *recordingExt) OnJobCompleted(_ context.Context, j job.Job, _ time.Duration) error {
	r.record("completed:" + j.Name)
	return nil
}

func (r *recordingExt) OnJobFailed(_ context.Context, j job.Job, _ error) error {
	r.record("failed:" + j.Name)
	return nil
}

func (r *recordingExt) OnShutdown(context.Context) error {
	r.record("shutdown")
	return nil
}

func (r *recordingExt) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestExtensions_ReceiveLifecycle(t *testing.T) {
	rec := &recordingExt{}
	fb := &fakeBackend{}
	s := newScheduler(t, queuesched.WithExtension(rec))
	_ = s.RegisterBackend("fake", fb)

	ok, _ := queuesched.Register(s, "ok", func(context.Context, int) error { return nil })
	_, _ = queuesched.Register(s, "bad", func(context.Context, int) error { return errors.New("no") })

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ok.Schedule(ctx, 1); err != nil {
		t.Fatal(err)
	}
	_ = fb.execute()(ctx, job.New("ok", []byte(`1`)))
	_ = fb.execute()(ctx, job.New("bad", []byte(`1`)))
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"scheduled:ok:general:fake",
		"started:ok",
		"completed:ok",
		"started:bad",
		"failed:bad",
		"shutdown",
	}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestWithMiddleware_RunsInsideChain(t *testing.T) {
	fb := &fakeBackend{}
	var order []string
	s := newScheduler(t, queuesched.WithMiddleware(func(ctx context.Context, j job.Job, next mw.Handler) error {
		order = append(order, "before")
		err := next(ctx)
		order = append(order, "after")
		return err
	}))
	_ = s.RegisterBackend("fake", fb)
	_, _ = s.RegisterJob("raw", func(context.Context, job.Job) error {
		order = append(order, "handler")
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := fb.execute()(context.Background(), job.New("raw", nil)); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "before" || order[1] != "handler" || order[2] != "after" {
		t.Fatalf("order = %v", order)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queuesched.yaml")
	if err := os.WriteFile(path, []byte("default_queue: critical\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := queuesched.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultQueue != "critical" || !cfg.DefaultMiddleware {
		t.Fatalf("cfg = %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("default_queue: \"\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := queuesched.LoadConfig(path); !errors.Is(err, queuesched.ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

func TestHandler_ReceivesQueuedJobID(t *testing.T) {
	tests := []struct {
		name    string
		backend backend.Backend
		poll    func(t *testing.T, b backend.Backend)
	}{
		{
			name:    "local",
			backend: local.New(local.WithInterval(time.Hour)),
			poll: func(t *testing.T, b backend.Backend) {
				if n := b.(*local.Backend).Tick(); n != 1 {
					t.Fatalf("dispatched %d, want 1", n)
				}
			},
		},
		{
			name: "distributed",
			backend: distributed.New(memory.New(),
				distributed.WithClaimInterval(time.Hour),
				distributed.WithHeartbeatInterval(0),
			),
			poll: func(t *testing.T, b backend.Backend) {
				if n, err := b.(*distributed.Backend).Poll(context.Background()); err != nil || n != 1 {
					t.Fatalf("poll = %d, %v", n, err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(t)
			if err := s.RegisterBackend(tt.name, tt.backend); err != nil {
				t.Fatal(err)
			}
			got := make(chan string, 1)
			m, err := s.RegisterJob("report", func(_ context.Context, j job.Job) error {
				got <- j.ID
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			ctx := context.Background()
			if err := s.Start(ctx); err != nil {
				t.Fatal(err)
			}

			qj, err := m.Make(nil).Schedule(ctx)
			if err != nil {
				t.Fatal(err)
			}
			tt.poll(t, tt.backend)

			select {
			case id := <-got:
				if id != qj.ID {
					t.Errorf("handler job id = %q, want %q", id, qj.ID)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("handler did not run")
			}
		})
	}
}
