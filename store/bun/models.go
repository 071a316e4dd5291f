package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/queuesched/backend/distributed"
)

type jobModel struct {
	bun.BaseModel `bun:"table:queuesched_jobs"`

	JobID         string          `bun:"job_id,pk"`
	QueueName     string          `bun:"queue_name,notnull"`
	JobName       string          `bun:"job_name,notnull"`
	GroupKey      *string         `bun:"group_key"`
	JobContext    json.RawMessage `bun:"job_context,type:jsonb"`
	RunAfter      *time.Time      `bun:"run_after"`
	WorkerID      *string         `bun:"worker_id"`
	Status        string          `bun:"status,notnull"`
	LatestError   json.RawMessage `bun:"latest_error,type:jsonb"`
	RetryAttempts int             `bun:"retry_attempts,notnull"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func fromJobModel(m *jobModel) (*distributed.Job, error) {
	j := &distributed.Job{
		JobID:         m.JobID,
		QueueName:     m.QueueName,
		JobName:       m.JobName,
		GroupKey:      m.GroupKey,
		WorkerID:      m.WorkerID,
		Status:        distributed.Status(m.Status),
		RetryAttempts: m.RetryAttempts,
		UpdatedAt:     m.UpdatedAt.UTC(),
		CreatedAt:     m.CreatedAt.UTC(),
	}
	if len(m.JobContext) > 0 {
		j.JobContext = m.JobContext
	}
	if m.RunAfter != nil {
		t := m.RunAfter.UTC()
		j.RunAfter = &t
	}
	if len(m.LatestError) > 0 {
		var reason distributed.ErrorReason
		if err := json.Unmarshal(m.LatestError, &reason); err != nil {
			return nil, fmt.Errorf("decode latest_error: %w", err)
		}
		j.LatestError = &reason
	}
	return j, nil
}

type workerModel struct {
	bun.BaseModel `bun:"table:queuesched_workers"`

	WorkerID     string    `bun:"worker_id,pk"`
	Hostname     string    `bun:"hostname,notnull"`
	RegisteredAt time.Time `bun:"registered_at,nullzero,notnull,default:current_timestamp"`
	LastSeenAt   time.Time `bun:"last_seen_at,nullzero,notnull,default:current_timestamp"`
}

func fromWorkerModel(m *workerModel) *distributed.Worker {
	return &distributed.Worker{
		ID:           m.WorkerID,
		Hostname:     m.Hostname,
		RegisteredAt: m.RegisteredAt.UTC(),
		LastSeenAt:   m.LastSeenAt.UTC(),
	}
}
