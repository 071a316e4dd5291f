package queuesched

import (
	"context"

	"github.com/xraph/queuesched/backend"
	"github.com/xraph/queuesched/queue"
)

// QueuedJob is a handle to a scheduled job, bound to the backend instance
// that accepted it.
type QueuedJob struct {
	// ID is the backend-assigned id.
	ID string

	// Queue is the queue the job was scheduled on.
	Queue queue.Queue

	// Backend is the name of the backend holding the job.
	Backend string

	backend backend.Backend
}

// IsScheduled reports whether the job is still pending or running.
func (q *QueuedJob) IsScheduled(ctx context.Context) (bool, error) {
	return q.backend.IsScheduled(ctx, q.ID)
}

// Cancel removes the job if it has not been picked up yet.
func (q *QueuedJob) Cancel(ctx context.Context) error {
	return q.backend.Cancel(ctx, q.ID)
}
