// Package memory provides an in-memory store for the distributed backend.
// It is safe for concurrent use by several backends in one process and is
// intended for tests and single-host development.
package memory

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
	"github.com/xraph/queuesched/store"
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	now     func() time.Time
	jobs    map[string]*distributed.Job
	workers map[string]*distributed.Worker
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for run_after and staleness
// checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		jobs:    make(map[string]*distributed.Job),
		workers: make(map[string]*distributed.Worker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RegisterWorker records a new worker.
func (s *Store) RegisterWorker(_ context.Context) (string, error) {
	host, _ := os.Hostname()
	now := s.now().UTC()
	w := &distributed.Worker{
		ID:           id.NewWorkerID().String(),
		Hostname:     host,
		RegisteredAt: now,
		LastSeenAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
	return w.ID, nil
}

// DeregisterWorker removes the worker and releases its rows.
func (s *Store) DeregisterWorker(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workers, workerID)
	now := s.now().UTC()
	for _, j := range s.jobs {
		if j.Owner() == workerID && j.Status == distributed.StatusProcessing {
			j.WorkerID = nil
			j.Status = distributed.StatusScheduled
			j.UpdatedAt = now
		}
	}
	return nil
}

// ListWorkers returns the registered workers, oldest first.
func (s *Store) ListWorkers(_ context.Context) ([]*distributed.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*distributed.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].RegisteredAt.Equal(out[k].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[k].RegisteredAt)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

// GenerateJobID returns a new job TypeID.
func (s *Store) GenerateJobID(_ context.Context) (string, error) {
	return id.NewJobID().String(), nil
}

// GetJobStatus returns the status of a row.
func (s *Store) GetJobStatus(_ context.Context, jobID string) (distributed.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return "", distributed.ErrJobNotFound
	}
	return j.Status, nil
}

// GetJob returns a copy of a row.
func (s *Store) GetJob(_ context.Context, jobID string) (*distributed.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, distributed.ErrJobNotFound
	}
	return clone(j), nil
}

// EnqueueJob inserts a row, owned by workerID when it is not empty.
func (s *Store) EnqueueJob(_ context.Context, workerID string, w distributed.WritableJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[w.JobID]; exists {
		return distributed.ErrJobAlreadyExists
	}

	now := s.now().UTC()
	j := &distributed.Job{
		JobID:      w.JobID,
		QueueName:  w.QueueName,
		JobName:    w.JobName,
		JobContext: append([]byte(nil), w.JobContext...),
		GroupKey:   copyString(w.GroupKey),
		Status:     distributed.StatusScheduled,
		UpdatedAt:  now,
		CreatedAt:  now,
	}
	if w.RunAfter != nil {
		t := w.RunAfter.UTC()
		j.RunAfter = &t
	}
	if workerID != "" {
		j.WorkerID = &workerID
		j.Status = distributed.StatusProcessing
	}
	s.jobs[j.JobID] = j
	return nil
}

// ClaimOwnership assigns up to limit eligible rows to workerID, oldest
// first, and returns their pre-claim snapshots.
func (s *Store) ClaimOwnership(_ context.Context, workerID string, limit int, staleAfter time.Duration) ([]*distributed.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cutoff := now.Add(-staleAfter)

	candidates := make([]*distributed.Job, 0, limit)
	for _, j := range s.jobs {
		if claimable(j, now, cutoff) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].JobID < candidates[k].JobID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*distributed.Job, len(candidates))
	for i, j := range candidates {
		out[i] = clone(j)
		owner := workerID
		j.WorkerID = &owner
		j.Status = distributed.StatusProcessing
		j.UpdatedAt = now
	}
	if w, ok := s.workers[workerID]; ok {
		w.LastSeenAt = now
	}
	return out, nil
}

func claimable(j *distributed.Job, now, cutoff time.Time) bool {
	switch j.Status {
	case distributed.StatusScheduled:
		return j.WorkerID == nil && (j.RunAfter == nil || !j.RunAfter.After(now))
	case distributed.StatusProcessing:
		return !j.UpdatedAt.After(cutoff)
	}
	return false
}

// RefreshOwnership bumps updated_at on rows still owned by workerID.
func (s *Store) RefreshOwnership(_ context.Context, workerID string, jobIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, jobID := range jobIDs {
		if j, ok := s.jobs[jobID]; ok && j.Owner() == workerID && workerID != "" {
			j.UpdatedAt = now
		}
	}
	if w, ok := s.workers[workerID]; ok {
		w.LastSeenAt = now
	}
	return nil
}

// DeleteJob removes a row owned by workerID, or an unowned row when
// workerID is empty.
func (s *Store) DeleteJob(_ context.Context, workerID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok && j.Owner() == workerID {
		delete(s.jobs, jobID)
	}
	return nil
}

// BackoffOwnedJob releases an owned row to run again after offset.
func (s *Store) BackoffOwnedJob(_ context.Context, workerID, jobID string, attempt int, offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || workerID == "" || j.Owner() != workerID {
		return nil
	}
	now := s.now().UTC()
	runAfter := now.Add(offset)
	j.WorkerID = nil
	j.Status = distributed.StatusScheduled
	j.RetryAttempts = attempt
	j.RunAfter = &runAfter
	j.UpdatedAt = now
	return nil
}

// ErrorOwnedJob moves an owned row into errored.
func (s *Store) ErrorOwnedJob(_ context.Context, workerID, jobID string, reason distributed.ErrorReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || workerID == "" || j.Owner() != workerID {
		return nil
	}
	r := reason
	j.WorkerID = nil
	j.Status = distributed.StatusErrored
	j.RunAfter = nil
	j.LatestError = &r
	j.UpdatedAt = s.now().UTC()
	return nil
}

// RetryErroredJob moves an errored row back to scheduled.
func (s *Store) RetryErroredJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != distributed.StatusErrored {
		return distributed.ErrJobNotFound
	}
	j.Status = distributed.StatusScheduled
	j.RetryAttempts = 0
	j.LatestError = nil
	j.RunAfter = nil
	j.UpdatedAt = s.now().UTC()
	return nil
}

func clone(j *distributed.Job) *distributed.Job {
	cp := *j
	cp.JobContext = append([]byte(nil), j.JobContext...)
	cp.GroupKey = copyString(j.GroupKey)
	cp.WorkerID = copyString(j.WorkerID)
	if j.RunAfter != nil {
		t := *j.RunAfter
		cp.RunAfter = &t
	}
	if j.LatestError != nil {
		e := *j.LatestError
		cp.LatestError = &e
	}
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
