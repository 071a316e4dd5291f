package distributed

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("queuesched/distributed: job not found")
	// ErrJobAlreadyExists is returned by EnqueueJob on a duplicate id.
	ErrJobAlreadyExists = errors.New("queuesched/distributed: job already exists")
)

// Accessor is the storage boundary of the distributed backend. Every method
// must be atomic with respect to the row invariants:
//
//   - status processing iff worker_id is set
//   - status errored implies run_after is null
//   - updated_at is refreshed on claim, backoff, error and refresh
//
// Methods taking a workerID and acting on an owned row are no-ops when the
// row is not owned by that worker. An empty workerID means "no owner".
type Accessor interface {
	// RegisterWorker returns a new worker identity.
	RegisterWorker(ctx context.Context) (string, error)

	// DeregisterWorker retires a worker and releases any rows it still
	// owns back to scheduled.
	DeregisterWorker(ctx context.Context, workerID string) error

	// GenerateJobID returns a fresh unique job id.
	GenerateJobID(ctx context.Context) (string, error)

	// GetJobStatus returns the status of a row or ErrJobNotFound.
	GetJobStatus(ctx context.Context, jobID string) (Status, error)

	// GetJob returns a full row or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// EnqueueJob inserts a row. With an empty workerID the row is
	// scheduled; otherwise it is processing and owned by workerID.
	EnqueueJob(ctx context.Context, workerID string, j WritableJob) error

	// ClaimOwnership atomically assigns up to limit rows to workerID and
	// returns their pre-claim snapshots. Eligible rows are unowned
	// scheduled rows whose run_after is unset or past, and processing rows
	// not updated within staleAfter. Rows locked by a concurrent claim are
	// skipped, never waited on.
	ClaimOwnership(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*Job, error)

	// RefreshOwnership bumps updated_at on the listed rows still owned by
	// workerID.
	RefreshOwnership(ctx context.Context, workerID string, jobIDs []string) error

	// DeleteJob removes a row owned by workerID, or an unowned row when
	// workerID is empty.
	DeleteJob(ctx context.Context, workerID, jobID string) error

	// BackoffOwnedJob releases an owned row back to scheduled with
	// retry_attempts set to attempt and run_after set to now+offset.
	BackoffOwnedJob(ctx context.Context, workerID, jobID string, attempt int, offset time.Duration) error

	// ErrorOwnedJob releases an owned row into errored, recording reason.
	ErrorOwnedJob(ctx context.Context, workerID, jobID string, reason ErrorReason) error

	// RetryErroredJob moves an errored row back to scheduled with
	// retry_attempts reset and latest_error cleared. Returns
	// ErrJobNotFound if no errored row has that id.
	RetryErroredJob(ctx context.Context, jobID string) error
}
