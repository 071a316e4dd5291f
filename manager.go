package queuesched

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/queuesched/job"
	"github.com/xraph/queuesched/queue"
)

// JobManager is the handle returned when a job type is registered. It
// schedules instances of the job and executes them when a backend hands
// them back.
type JobManager[T any] struct {
	s       *Scheduler
	name    string
	queue   queue.Queue
	timeout time.Duration
	exec    job.Handler
}

// Register registers a typed handler under name. Payloads are JSON encoded
// at schedule time and decoded into T before the handler runs.
//
// A name collision returns ErrJobAlreadyRegistered and changes nothing.
// The job's default queue is resolved now; an unknown queue returns
// ErrQueueNotRegistered.
func Register[T any](s *Scheduler, name string, handler func(ctx context.Context, payload T) error, opts ...job.Option) (*JobManager[T], error) {
	if handler == nil {
		return nil, fmt.Errorf("queuesched: handler for job %q is nil", name)
	}
	exec := func(ctx context.Context, j job.Job) error {
		var payload T
		if len(j.Context) > 0 {
			if err := json.Unmarshal(j.Context, &payload); err != nil {
				return fmt.Errorf("queuesched: decode payload for job %q: %w", j.Name, err)
			}
		}
		return handler(ctx, payload)
	}
	return register[T](s, name, exec, opts...)
}

func register[T any](s *Scheduler, name string, exec job.Handler, opts ...job.Option) (*JobManager[T], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: job name is empty", ErrInvalidName)
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	if _, exists := s.jobs.Get(name); exists {
		return nil, fmt.Errorf("%w: %q", ErrJobAlreadyRegistered, name)
	}

	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}

	q := s.DefaultQueue()
	if o.Queue != "" {
		var ok bool
		if q, ok = s.queues.Get(o.Queue); !ok {
			return nil, fmt.Errorf("%w: %q", ErrQueueNotRegistered, o.Queue)
		}
	}

	m := &JobManager[T]{
		s:       s,
		name:    name,
		queue:   q,
		timeout: o.Timeout,
		exec:    exec,
	}
	if _, ok := s.jobs.Register(name, func() registeredJob { return m }); !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobAlreadyRegistered, name)
	}

	s.logger.Debug("job registered",
		slog.String("job_name", name),
		slog.String("queue", q.Name),
	)
	return m, nil
}

// Name returns the registered job name.
func (m *JobManager[T]) Name() string { return m.name }

// DefaultQueue returns the queue used when Schedule is not given On.
func (m *JobManager[T]) DefaultQueue() queue.Queue { return m.queue }

// Timeout returns the per-execution limit, or zero for none.
func (m *JobManager[T]) Timeout() time.Duration { return m.timeout }

// Make returns a builder for one instance of the job.
func (m *JobManager[T]) Make(payload T) *JobBuilder[T] {
	return &JobBuilder[T]{m: m, payload: payload}
}

// Schedule is shorthand for Make(payload).Schedule(ctx, opts...).
func (m *JobManager[T]) Schedule(ctx context.Context, payload T, opts ...ScheduleOption) (*QueuedJob, error) {
	return m.Make(payload).Schedule(ctx, opts...)
}

// Execute runs the handler for j. Middleware is applied by the scheduler,
// not here.
func (m *JobManager[T]) Execute(ctx context.Context, j job.Job) error {
	return m.exec(ctx, j)
}

// JobBuilder holds one job instance until it is scheduled.
type JobBuilder[T any] struct {
	m       *JobManager[T]
	payload T
}

// Schedule submits the instance to the backend of its queue.
func (b *JobBuilder[T]) Schedule(ctx context.Context, opts ...ScheduleOption) (*QueuedJob, error) {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := json.Marshal(b.payload)
	if err != nil {
		return nil, fmt.Errorf("queuesched: encode payload for job %q: %w", b.m.name, err)
	}
	return b.m.s.schedule(ctx, b.m.name, b.m.queue, payload, o)
}

type scheduleOptions struct {
	after time.Time
	queue string
}

// ScheduleOption configures a single Schedule call.
type ScheduleOption func(*scheduleOptions)

// After delays execution until t.
func After(t time.Time) ScheduleOption {
	return func(o *scheduleOptions) { o.after = t }
}

// Delay delays execution by d from now.
func Delay(d time.Duration) ScheduleOption {
	return func(o *scheduleOptions) { o.after = time.Now().Add(d) }
}

// On schedules on the named queue instead of the job's default queue.
func On(queueName string) ScheduleOption {
	return func(o *scheduleOptions) { o.queue = queueName }
}
