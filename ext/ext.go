package ext

import (
	"context"
	"time"

	"github.com/xraph/queuesched/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobScheduled is called after a backend accepts a job.
type JobScheduled interface {
	OnJobScheduled(ctx context.Context, j job.Job, queue, backend string) error
}

// JobStarted is called before a job's handler runs.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j job.Job) error
}

// JobCompleted is called after a handler returns nil.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j job.Job, elapsed time.Duration) error
}

// JobFailed is called after a handler attempt fails.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j job.Job, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
