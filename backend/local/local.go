// Package local provides a single-process, in-memory queue backend.
//
// Submitted jobs are kept in a list. A ticker (one second by default)
// scans the list and hands every due entry to the execute handler, each in
// its own goroutine, so a slow handler never delays the others found in the
// same tick. Nothing is persisted and failed jobs are not retried; use the
// distributed backend when either matters.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/queuesched/backend"
	"github.com/xraph/queuesched/job"
)

// DefaultInterval is the default scan period.
const DefaultInterval = time.Second

var _ backend.Backend = (*Backend)(nil)

type entry struct {
	id    string
	job   job.Job
	after time.Time
}

func (e entry) due(now time.Time) bool {
	return e.after.IsZero() || !now.Before(e.after)
}

// Backend is the in-memory backend. The zero value is not usable; call New.
type Backend struct {
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	lifeMu sync.Mutex

	mu      sync.Mutex
	entries []entry
	handler backend.ExecuteFunc
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	runCtx  context.Context

	loopWG sync.WaitGroup
	jobsWG sync.WaitGroup
}

// Option configures a Backend.
type Option func(*Backend)

// WithInterval sets the scan period.
func WithInterval(d time.Duration) Option {
	return func(b *Backend) { b.interval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithClock replaces time.Now for due checks.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a local backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	return b
}

// Start begins scanning. A running backend is shut down first.
func (b *Backend) Start(ctx context.Context, opts backend.StartOptions) error {
	if opts.ExecuteHandler == nil {
		return fmt.Errorf("queuesched/local: start: nil execute handler")
	}

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if err := b.shutdown(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handler = opts.ExecuteHandler
	b.stopCh = make(chan struct{})
	b.runCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.running = true

	b.logger.Info("local backend starting",
		slog.Duration("interval", b.interval),
		slog.Int("pending", len(b.entries)),
	)

	b.loopWG.Add(1)
	go b.loop(b.stopCh)

	return nil
}

// Submit appends j to the pending list. The handler receives j with its
// ID set to the returned entry id.
func (b *Backend) Submit(_ context.Context, j job.Job, opts backend.SubmitOptions) (string, error) {
	j.ID = uuid.NewString()
	e := entry{id: j.ID, job: j, after: opts.After}

	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()

	return e.id, nil
}

// IsScheduled reports whether the entry is still pending.
func (b *Backend) IsScheduled(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.id == id {
			return true, nil
		}
	}
	return false, nil
}

// Cancel removes a pending entry. Unknown ids are ignored.
func (b *Backend) Cancel(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return nil
}

// Shutdown stops the ticker and drops the handler. It waits for dispatched
// jobs until ctx is done, then cancels their contexts. Pending entries are
// kept for the next Start.
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
	b.handler = nil
	close(b.stopCh)
	cancel := b.cancel
	b.mu.Unlock()

	b.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		b.jobsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("local backend shutdown timed out, cancelling running jobs")
		cancel()
		<-done
	}
	cancel()

	b.logger.Info("local backend stopped")
	return nil
}

// Pending returns the number of pending entries.
func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Backend) loop(stopCh <-chan struct{}) {
	defer b.loopWG.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			b.processDue(b.now())
		}
	}
}

// Tick runs one scan at the backend clock's current time, exactly as the
// ticker would, and returns the number of jobs dispatched. With WithClock
// it lets tests drive virtual time.
func (b *Backend) Tick() int {
	return b.processDue(b.now())
}

// processDue removes every entry due at now and dispatches each in its own
// goroutine. It returns the number dispatched.
func (b *Backend) processDue(now time.Time) int {
	b.mu.Lock()
	handler := b.handler
	if handler == nil {
		b.mu.Unlock()
		return 0
	}
	ctx := b.runCtx

	var due []entry
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.due(now) {
			due = append(due, e)
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	b.jobsWG.Add(len(due))
	b.mu.Unlock()

	for _, e := range due {
		go b.run(ctx, handler, e)
	}
	return len(due)
}

func (b *Backend) run(ctx context.Context, handler backend.ExecuteFunc, e entry) {
	defer b.jobsWG.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("local job panicked",
				slog.String("entry_id", e.id),
				slog.String("job_name", e.job.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := handler(ctx, e.job); err != nil {
		b.logger.Error("local job failed",
			slog.String("entry_id", e.id),
			slog.String("job_id", e.job.ID),
			slog.String("job_name", e.job.Name),
			slog.String("error", err.Error()),
		)
	}
}
