package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/queuesched/backend"
	"github.com/xraph/queuesched/backoff"
	"github.com/xraph/queuesched/job"
)

// ErrNotStarted is returned by operations that need a running worker.
var ErrNotStarted = errors.New("queuesched/distributed: backend not started")

// Compile-time check.
var _ backend.Backend = (*Backend)(nil)

// Backend is a queue backend that coordinates workers through an Accessor.
type Backend struct {
	accessor Accessor
	config   Config
	strategy backoff.Strategy
	logger   *slog.Logger

	lifeMu sync.Mutex

	mu         sync.Mutex
	running    bool
	workerID   string
	handler    backend.ExecuteFunc
	stopCh     chan struct{}
	runCtx     context.Context
	cancelRun  context.CancelFunc
	activeJobs map[string]context.CancelFunc

	loopWG sync.WaitGroup
	jobsWG sync.WaitGroup

	claimed   atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time snapshot of a Backend.
type Stats struct {
	WorkerID  string `json:"worker_id"`
	Running   bool   `json:"running"`
	InFlight  int    `json:"in_flight"`
	Claimed   int64  `json:"claimed"`
	Completed int64  `json:"completed"`
	Retried   int64  `json:"retried"`
	Failed    int64  `json:"failed"`
}

// New creates a distributed backend over accessor.
func New(accessor Accessor, opts ...Option) *Backend {
	b := &Backend{
		accessor:   accessor,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		activeJobs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.strategy == nil {
		// An unparsable Backoff is reported by Start through Validate.
		if s, err := b.config.Strategy(); err == nil {
			b.strategy = s
		} else {
			b.strategy = backoff.NewConstant(b.config.BackoffDelay)
		}
	}
	return b
}

// Accessor returns the underlying accessor.
func (b *Backend) Accessor() Accessor { return b.accessor }

// WorkerID returns the current worker identity, or "" when stopped.
func (b *Backend) WorkerID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workerID
}

// Start registers a worker and launches the claim and heartbeat loops.
// A running backend is shut down first.
func (b *Backend) Start(ctx context.Context, opts backend.StartOptions) error {
	if opts.ExecuteHandler == nil {
		return errors.New("queuesched/distributed: start: nil execute handler")
	}
	if err := b.config.Validate(); err != nil {
		return err
	}

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if err := b.shutdown(ctx); err != nil {
		return err
	}

	workerID, err := b.accessor.RegisterWorker(ctx)
	if err != nil {
		return fmt.Errorf("queuesched/distributed: register worker: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopCh := make(chan struct{})

	b.mu.Lock()
	b.running = true
	b.workerID = workerID
	b.handler = opts.ExecuteHandler
	b.stopCh = stopCh
	b.runCtx = runCtx
	b.cancelRun = cancel
	b.mu.Unlock()

	b.logger.Info("distributed backend starting",
		slog.String("worker_id", workerID),
		slog.Int("max_concurrent", b.config.MaxConcurrent),
		slog.Duration("claim_interval", b.config.ClaimInterval),
	)

	b.loopWG.Add(1)
	go b.claimLoop(stopCh)

	if b.config.HeartbeatInterval > 0 {
		b.loopWG.Add(1)
		go b.heartbeatLoop(stopCh)
	}

	return nil
}

// Submit persists j as an unowned scheduled row and returns its job id.
func (b *Backend) Submit(ctx context.Context, j job.Job, opts backend.SubmitOptions) (string, error) {
	jobID, err := b.accessor.GenerateJobID(ctx)
	if err != nil {
		return "", fmt.Errorf("queuesched/distributed: generate job id: %w", err)
	}

	w := WritableJob{
		JobID:      jobID,
		QueueName:  opts.Queue,
		JobName:    j.Name,
		JobContext: j.Context,
	}
	if !opts.After.IsZero() {
		after := opts.After.UTC()
		w.RunAfter = &after
	}

	if err := b.accessor.EnqueueJob(ctx, "", w); err != nil {
		return "", fmt.Errorf("queuesched/distributed: enqueue: %w", err)
	}
	return jobID, nil
}

// IsScheduled reports whether the row exists and is scheduled or
// processing.
func (b *Backend) IsScheduled(ctx context.Context, id string) (bool, error) {
	status, err := b.accessor.GetJobStatus(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == StatusScheduled || status == StatusProcessing, nil
}

// Cancel deletes the row if no worker owns it.
func (b *Backend) Cancel(ctx context.Context, id string) error {
	return b.accessor.DeleteJob(ctx, "", id)
}

// RetryErrored moves an errored row back to scheduled.
func (b *Backend) RetryErrored(ctx context.Context, id string) error {
	return b.accessor.RetryErroredJob(ctx, id)
}

// Poll runs one claim immediately and returns the number of jobs started.
func (b *Backend) Poll(ctx context.Context) (int, error) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return 0, ErrNotStarted
	}
	// Shutdown waits for loopWG before deregistering the worker.
	b.loopWG.Add(1)
	b.mu.Unlock()
	defer b.loopWG.Done()

	return b.claim(ctx)
}

// Stats returns a snapshot of counters and in-flight jobs.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		WorkerID:  b.workerID,
		Running:   b.running,
		InFlight:  len(b.activeJobs),
		Claimed:   b.claimed.Load(),
		Completed: b.completed.Load(),
		Retried:   b.retried.Load(),
		Failed:    b.failed.Load(),
	}
}

// Shutdown stops the loops and waits for in-flight jobs. When ctx is done
// before they finish, their contexts are cancelled. The worker is then
// deregistered, which releases any rows it still owns.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	return b.shutdown(ctx)
}

func (b *Backend) shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stopCh)
	workerID := b.workerID
	cancel := b.cancelRun
	b.mu.Unlock()

	b.logger.Info("distributed backend stopping", slog.String("worker_id", workerID))

	b.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		b.jobsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("distributed backend shutdown timed out, cancelling active jobs",
			slog.String("worker_id", workerID),
		)
		b.cancelActiveJobs()
		<-done
	}
	cancel()

	err := b.accessor.DeregisterWorker(context.WithoutCancel(ctx), workerID)

	b.mu.Lock()
	b.workerID = ""
	b.handler = nil
	b.runCtx = nil
	b.cancelRun = nil
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("queuesched/distributed: deregister worker: %w", err)
	}
	b.logger.Info("distributed backend stopped", slog.String("worker_id", workerID))
	return nil
}

func (b *Backend) claimLoop(stopCh <-chan struct{}) {
	defer b.loopWG.Done()

	ticker := time.NewTicker(b.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			ctx := b.runCtx
			b.mu.Unlock()
			if _, err := b.claim(ctx); err != nil {
				b.logger.Error("claim error", slog.String("error", err.Error()))
			}
		}
	}
}

// claim takes up to the free capacity of due rows and starts them. It
// does nothing while more than half of MaxConcurrent is in flight.
func (b *Backend) claim(ctx context.Context) (int, error) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return 0, nil
	}
	inflight := len(b.activeJobs)
	workerID := b.workerID
	b.mu.Unlock()

	capacity := max(0, b.config.MaxConcurrent-inflight)
	if capacity == 0 || inflight > b.config.MaxConcurrent/2 {
		return 0, nil
	}

	jobs, err := b.accessor.ClaimOwnership(ctx, workerID, capacity, b.config.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("queuesched/distributed: claim: %w", err)
	}

	started := 0
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, j := range jobs {
		// Rows claimed after shutdown began are released by deregistration.
		if !b.running || b.workerID != workerID {
			break
		}
		if _, ok := b.activeJobs[j.JobID]; ok {
			continue
		}
		jobCtx, cancel := context.WithCancel(b.runCtx)
		b.activeJobs[j.JobID] = cancel
		b.jobsWG.Add(1)
		go b.process(jobCtx, workerID, b.handler, j)
		started++
	}
	b.claimed.Add(int64(started))
	return started, nil
}

func (b *Backend) process(ctx context.Context, workerID string, handler backend.ExecuteFunc, j *Job) {
	defer b.jobsWG.Done()

	execErr := b.execute(ctx, handler, j)

	// Untrack before releasing the row so a claim that races the release
	// can start it again instead of skipping it as in flight.
	b.untrackJob(j.JobID)

	// Completion is recorded even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	if execErr == nil {
		if err := b.withRetry(ctx, "delete", j.JobID, func(ctx context.Context) error {
			return b.accessor.DeleteJob(ctx, workerID, j.JobID)
		}); err == nil {
			b.completed.Add(1)
		}
		return
	}

	if j.RetryAttempts < b.config.MaxRetries {
		attempt := j.RetryAttempts + 1
		delay := b.strategy.Delay(attempt)
		b.logger.Info("job failed, scheduling retry",
			slog.String("job_id", j.JobID),
			slog.String("job_name", j.JobName),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", execErr.Error()),
		)
		if err := b.withRetry(ctx, "backoff", j.JobID, func(ctx context.Context) error {
			return b.accessor.BackoffOwnedJob(ctx, workerID, j.JobID, attempt, delay)
		}); err == nil {
			b.retried.Add(1)
		}
		return
	}

	b.logger.Warn("job errored after exhausting retries",
		slog.String("job_id", j.JobID),
		slog.String("job_name", j.JobName),
		slog.Int("retry_attempts", j.RetryAttempts),
		slog.String("error", execErr.Error()),
	)
	reason := NewErrorReason(execErr)
	if err := b.withRetry(ctx, "error", j.JobID, func(ctx context.Context) error {
		return b.accessor.ErrorOwnedJob(ctx, workerID, j.JobID, reason)
	}); err == nil {
		b.failed.Add(1)
	}
}

func (b *Backend) execute(ctx context.Context, handler backend.ExecuteFunc, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, job.Job{ID: j.JobID, Name: j.JobName, Context: j.JobContext})
}

// withRetry runs fn up to AccessorRetries+1 times with a linearly growing
// delay. A final failure leaves the row owned; it is reclaimed once stale.
func (b *Backend) withRetry(ctx context.Context, op, jobID string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= b.config.AccessorRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == b.config.AccessorRetries {
			break
		}
		b.logger.Warn("accessor call failed, retrying",
			slog.String("op", op),
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		time.Sleep(b.config.AccessorRetryDelay * time.Duration(attempt+1))
	}
	b.logger.Error("accessor call failed, job left for stale reclaim",
		slog.String("op", op),
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	return err
}

func (b *Backend) heartbeatLoop(stopCh <-chan struct{}) {
	defer b.loopWG.Done()

	ticker := time.NewTicker(b.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			b.sendHeartbeat()
		}
	}
}

func (b *Backend) sendHeartbeat() {
	b.mu.Lock()
	workerID := b.workerID
	ctx := b.runCtx
	jobIDs := make([]string, 0, len(b.activeJobs))
	for jobID := range b.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	b.mu.Unlock()

	if len(jobIDs) == 0 || ctx == nil {
		return
	}
	if err := b.accessor.RefreshOwnership(ctx, workerID, jobIDs); err != nil {
		b.logger.Warn("heartbeat failed",
			slog.String("worker_id", workerID),
			slog.Int("jobs", len(jobIDs)),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Backend) untrackJob(jobID string) {
	b.mu.Lock()
	cancel := b.activeJobs[jobID]
	delete(b.activeJobs, jobID)
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Backend) cancelActiveJobs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for jobID, cancel := range b.activeJobs {
		b.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
