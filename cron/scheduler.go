package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/queuesched"
	"github.com/xraph/queuesched/registry"
)

// DefaultTickInterval is how often due entries are checked.
const DefaultTickInterval = time.Second

var (
	// ErrEntryExists is returned when an entry name is already taken.
	ErrEntryExists = errors.New("queuesched/cron: entry already exists")
	// ErrInvalidSchedule is returned for an unparsable cron expression.
	ErrInvalidSchedule = errors.New("queuesched/cron: invalid schedule")
)

// cronParser accepts five-field expressions and descriptors.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// FireFunc runs when an entry is due. at is the run time that came due.
type FireFunc func(ctx context.Context, at time.Time) error

// Entry is a snapshot of a registered schedule.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
	LastRun  time.Time
}

type entry struct {
	name     string
	expr     string
	schedule cronlib.Schedule
	fire     FireFunc

	// guarded by Scheduler.mu
	next    time.Time
	lastRun time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often due entries are checked.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler fires cron entries from a ticker.
type Scheduler struct {
	tickInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	entries *registry.Registry[*entry]

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tickInterval: DefaultTickInterval,
		logger:       slog.Default(),
		now:          time.Now,
		entries:      registry.New[*entry](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tickInterval <= 0 {
		s.tickInterval = DefaultTickInterval
	}
	return s
}

// Add registers fn under name to fire on expr.
func (s *Scheduler) Add(name, expr string, fn FireFunc) error {
	if name == "" {
		return fmt.Errorf("%w: entry name is empty", queuesched.ErrInvalidName)
	}
	if fn == nil {
		return fmt.Errorf("queuesched/cron: entry %q has nil func", name)
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries.Register(name, func() *entry {
		return &entry{
			name:     name,
			expr:     expr,
			schedule: sched,
			fire:     fn,
			next:     sched.Next(s.now()),
		}
	})
	if !ok {
		return fmt.Errorf("%w: %q", ErrEntryExists, name)
	}

	s.logger.Debug("cron entry added",
		slog.String("cron_name", name),
		slog.String("schedule", expr),
	)
	return nil
}

// Schedule adds an entry that schedules payload through m on every run.
func Schedule[T any](s *Scheduler, name, expr string, m *queuesched.JobManager[T], payload T, opts ...queuesched.ScheduleOption) error {
	return s.Add(name, expr, func(ctx context.Context, _ time.Time) error {
		qj, err := m.Schedule(ctx, payload, opts...)
		if err != nil {
			return err
		}
		s.logger.Debug("cron scheduled job",
			slog.String("cron_name", name),
			slog.String("job_name", m.Name()),
			slog.String("job_id", qj.ID),
		)
		return nil
	})
}

// Entries returns snapshots of every entry, ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, s.entries.Len())
	for _, e := range s.entries.Values() {
		out = append(out, Entry{Name: e.name, Schedule: e.expr, Next: e.next, LastRun: e.lastRun})
	}
	return out
}

// Start begins ticking. A running scheduler is stopped first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(1)
	go s.loop(s.stopCh)

	s.logger.Info("cron scheduler started",
		slog.Int("entries", s.entries.Len()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop halts the ticker and waits for an in-progress tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh, cancel := s.stopCh, s.cancel
	s.stopCh, s.cancel = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	s.wg.Wait()
	cancel()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick fires every entry due at the current clock time and returns how
// many fired. Runs missed while the scheduler was stopped collapse into
// one.
func (s *Scheduler) Tick() int {
	now := s.now()

	s.mu.Lock()
	ctx := s.runCtx
	type run struct {
		e  *entry
		at time.Time
	}
	var due []run
	for _, e := range s.entries.Values() {
		if e.next.After(now) {
			continue
		}
		due = append(due, run{e: e, at: e.next})
		e.lastRun = e.next
		e.next = e.schedule.Next(now)
	}
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	for _, r := range due {
		s.fire(ctx, r.e, r.at)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, e *entry, at time.Time) {
	if err := e.fire(ctx, at); err != nil {
		s.logger.Error("cron fire failed",
			slog.String("cron_name", e.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("cron fired", slog.String("cron_name", e.name))
}
