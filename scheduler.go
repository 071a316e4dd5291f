package queuesched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/queuesched/backend"
	"github.com/xraph/queuesched/ext"
	"github.com/xraph/queuesched/job"
	mw "github.com/xraph/queuesched/middleware"
	"github.com/xraph/queuesched/observability"
	"github.com/xraph/queuesched/queue"
	"github.com/xraph/queuesched/registry"
)

// instrumentationName scopes tracers and meters created from injected
// providers.
const instrumentationName = "github.com/xraph/queuesched"

// registeredJob is the type-erased view of a JobManager.
type registeredJob interface {
	Name() string
	Timeout() time.Duration
	Execute(ctx context.Context, j job.Job) error
}

// Scheduler registers queues, jobs and backends, routes scheduled jobs to
// backends and dispatches due jobs to their handlers.
//
// Create one with New. All methods are safe for concurrent use.
type Scheduler struct {
	config Config
	logger *slog.Logger

	queues   *registry.Registry[queue.Queue]
	jobs     *registry.Registry[registeredJob]
	backends *registry.Registry[backend.Backend]
	throttle *queue.Throttle

	// regMu serialises registrations that must check before inserting.
	regMu          sync.Mutex
	mu             sync.RWMutex
	defaultBackend string

	extensions     *ext.Registry
	pendingExts    []ext.Extension
	mws            []mw.Middleware
	chain          mw.Middleware
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	lifeMu  sync.Mutex
	running bool
}

// New creates a Scheduler and registers its default queue.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config:   DefaultConfig(),
		logger:   slog.Default(),
		queues:   registry.New[queue.Queue](),
		jobs:     registry.New[registeredJob](),
		backends: registry.New[backend.Backend](),
		throttle: queue.NewThrottle(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	s.extensions = ext.NewRegistry(s.logger)
	if s.meterProvider != nil {
		s.extensions.Register(observability.NewMetricsExtensionWithMeter(
			s.meterProvider.Meter(instrumentationName + "/observability"),
		))
	} else {
		s.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range s.pendingExts {
		s.extensions.Register(e)
	}
	s.pendingExts = nil

	s.chain = mw.Chain(s.middleware()...)

	if _, err := s.RegisterQueue(s.config.DefaultQueue); err != nil {
		return nil, err
	}
	return s, nil
}

// middleware builds the execution chain:
// recover → tracing → metrics → logging → timeout → user middleware.
func (s *Scheduler) middleware() []mw.Middleware {
	if !s.config.DefaultMiddleware {
		return s.mws
	}

	tracing := mw.Tracing()
	if s.tracerProvider != nil {
		tracing = mw.TracingWithTracer(s.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if s.meterProvider != nil {
		metrics = mw.MetricsWithMeter(s.meterProvider.Meter(instrumentationName))
	}

	out := []mw.Middleware{
		mw.Recover(s.logger),
		tracing,
		metrics,
		mw.Logging(s.logger),
		mw.Timeout(s.logger, s.jobTimeout),
	}
	return append(out, s.mws...)
}

func (s *Scheduler) jobTimeout(j job.Job) time.Duration {
	if m, ok := s.jobs.Get(j.Name); ok {
		return m.Timeout()
	}
	return 0
}

// RegisterBackend adds a named backend. The first backend registered
// becomes the default backend.
func (s *Scheduler) RegisterBackend(name string, b backend.Backend) error {
	if name == "" {
		return fmt.Errorf("%w: backend name is empty", ErrInvalidName)
	}
	if b == nil {
		return fmt.Errorf("queuesched: backend %q is nil", name)
	}
	if _, ok := s.backends.Register(name, func() backend.Backend { return b }); !ok {
		return fmt.Errorf("%w: %q", ErrBackendAlreadyRegistered, name)
	}

	s.mu.Lock()
	if s.defaultBackend == "" {
		s.defaultBackend = name
	}
	s.mu.Unlock()

	s.logger.Debug("backend registered", slog.String("backend", name))
	return nil
}

// RegisterQueue adds a named queue. The backend it names is resolved at
// schedule time, so it may be registered later.
func (s *Scheduler) RegisterQueue(name string, opts ...queue.Option) (queue.Queue, error) {
	if name == "" {
		return queue.Queue{}, fmt.Errorf("%w: queue name is empty", ErrInvalidName)
	}
	q, ok := s.queues.Register(name, func() queue.Queue { return queue.New(name, opts...) })
	if !ok {
		return queue.Queue{}, fmt.Errorf("%w: %q", ErrQueueAlreadyRegistered, name)
	}
	s.throttle.Set(q)

	s.logger.Debug("queue registered",
		slog.String("queue", q.Name),
		slog.String("backend", q.Backend),
	)
	return q, nil
}

// RegisterJob registers an untyped handler that receives the raw job.
// Its payload is passed through as raw JSON.
func (s *Scheduler) RegisterJob(name string, handler job.Handler, opts ...job.Option) (*JobManager[json.RawMessage], error) {
	if handler == nil {
		return nil, fmt.Errorf("queuesched: handler for job %q is nil", name)
	}
	return register[json.RawMessage](s, name, handler, opts...)
}

// Start starts every registered backend concurrently. If any backend fails
// to start, the ones that did start are shut down again and the error is
// returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	names := s.backends.Names()
	started := make([]bool, len(names))
	opts := backend.StartOptions{ExecuteHandler: s.dispatch}

	// Backends keep ctx for their run, so it is passed through unchanged
	// rather than the group context, which Wait cancels.
	var g errgroup.Group
	for i, name := range names {
		b, _ := s.backends.Get(name)
		g.Go(func() error {
			if err := b.Start(ctx, opts); err != nil {
				return fmt.Errorf("queuesched: start backend %q: %w", name, err)
			}
			started[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		rollback := context.WithoutCancel(ctx)
		for i, name := range names {
			if !started[i] {
				continue
			}
			b, _ := s.backends.Get(name)
			if shutErr := b.Shutdown(rollback); shutErr != nil {
				s.logger.Error("rollback shutdown failed",
					slog.String("backend", name),
					slog.String("error", shutErr.Error()),
				)
			}
		}
		return err
	}

	s.running = true
	s.logger.Info("scheduler started", slog.Int("backends", len(names)))
	return nil
}

// Shutdown shuts every backend down and notifies Shutdown extensions.
// Errors from individual backends are joined. It is safe to call more
// than once.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, name := range s.backends.Names() {
		b, _ := s.backends.Get(name)
		g.Go(func() error {
			if err := b.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("queuesched: shutdown backend %q: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.running {
		s.extensions.EmitShutdown(ctx)
		s.running = false
		s.logger.Info("scheduler stopped")
	}
	return errors.Join(errs...)
}

// dispatch is the ExecuteFunc handed to every backend.
func (s *Scheduler) dispatch(ctx context.Context, j job.Job) error {
	m, ok := s.jobs.Get(j.Name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, j.Name)
	}

	ctx = job.WithJob(ctx, j)
	s.extensions.EmitJobStarted(ctx, j)

	start := time.Now()
	err := s.chain(ctx, j, func(ctx context.Context) error {
		return m.Execute(ctx, j)
	})
	if err != nil {
		s.extensions.EmitJobFailed(ctx, j, err)
		return err
	}
	s.extensions.EmitJobCompleted(ctx, j, time.Since(start))
	return nil
}

// schedule resolves queue and backend and submits a job.
func (s *Scheduler) schedule(ctx context.Context, name string, defaultQueue queue.Queue, payload []byte, opts scheduleOptions) (*QueuedJob, error) {
	q := defaultQueue
	if opts.queue != "" {
		var ok bool
		if q, ok = s.queues.Get(opts.queue); !ok {
			return nil, fmt.Errorf("%w: %q", ErrQueueNotRegistered, opts.queue)
		}
	}

	backendName, b, err := s.resolveBackend(q)
	if err != nil {
		return nil, err
	}

	if err := s.throttle.Wait(ctx, q.Name); err != nil {
		return nil, fmt.Errorf("queuesched: throttle queue %q: %w", q.Name, err)
	}

	j := job.New(name, payload)
	id, err := b.Submit(ctx, j, backend.SubmitOptions{After: opts.after, Queue: q.Name})
	if err != nil {
		return nil, fmt.Errorf("queuesched: submit job %q to backend %q: %w", name, backendName, err)
	}
	j.ID = id

	s.extensions.EmitJobScheduled(ctx, j, q.Name, backendName)
	s.logger.Debug("job scheduled",
		slog.String("job_name", name),
		slog.String("job_id", id),
		slog.String("queue", q.Name),
		slog.String("backend", backendName),
	)

	return &QueuedJob{ID: id, Queue: q, Backend: backendName, backend: b}, nil
}

// resolveBackend returns the queue's backend, else the default backend.
func (s *Scheduler) resolveBackend(q queue.Queue) (string, backend.Backend, error) {
	name := q.Backend
	if name == "" {
		name = s.DefaultBackend()
		if name == "" {
			return "", nil, ErrNoDefaultBackend
		}
	}
	b, ok := s.backends.Get(name)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, name)
	}
	return name, b, nil
}

// DefaultQueue returns the queue registered at construction.
func (s *Scheduler) DefaultQueue() queue.Queue {
	q, _ := s.queues.Get(s.config.DefaultQueue)
	return q
}

// Queue returns a registered queue.
func (s *Scheduler) Queue(name string) (queue.Queue, bool) {
	return s.queues.Get(name)
}

// Queues returns a snapshot of the registered queues.
func (s *Scheduler) Queues() map[string]queue.Queue { return s.queues.All() }

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string { return s.jobs.Names() }

// Backends returns the registered backend names, sorted.
func (s *Scheduler) Backends() []string { return s.backends.Names() }

// Backend returns a registered backend.
func (s *Scheduler) Backend(name string) (backend.Backend, bool) {
	return s.backends.Get(name)
}

// DefaultBackend returns the default backend name, or "" if no backend
// has been registered.
func (s *Scheduler) DefaultBackend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultBackend
}

// Extensions returns the extension registry.
func (s *Scheduler) Extensions() *ext.Registry { return s.extensions }

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *slog.Logger { return s.logger }
