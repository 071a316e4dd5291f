package mongo

import (
	"encoding/json"
	"time"

	"github.com/xraph/queuesched/backend/distributed"
)

type jobModel struct {
	ID            string            `bson:"_id"`
	QueueName     string            `bson:"queue_name"`
	JobName       string            `bson:"job_name"`
	JobContext    []byte            `bson:"job_context,omitempty"`
	GroupKey      *string           `bson:"group_key"`
	RunAfter      *time.Time        `bson:"run_after"`
	WorkerID      *string           `bson:"worker_id"`
	Status        string            `bson:"status"`
	RetryAttempts int               `bson:"retry_attempts"`
	LatestError   *errorReasonModel `bson:"latest_error"`
	UpdatedAt     time.Time         `bson:"updated_at"`
	CreatedAt     time.Time         `bson:"created_at"`
}

type errorReasonModel struct {
	Name    string `bson:"name"`
	Message string `bson:"message"`
	Stack   string `bson:"stack,omitempty"`
}

type workerModel struct {
	ID           string    `bson:"_id"`
	Hostname     string    `bson:"hostname"`
	RegisteredAt time.Time `bson:"registered_at"`
	LastSeenAt   time.Time `bson:"last_seen_at"`
}

func toErrorReasonModel(r distributed.ErrorReason) *errorReasonModel {
	return &errorReasonModel{
		Name:    r.Error.Name,
		Message: r.Error.Message,
		Stack:   r.Error.Stack,
	}
}

func fromJobModel(m *jobModel) *distributed.Job {
	j := &distributed.Job{
		JobID:         m.ID,
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
		j.JobContext = json.RawMessage(m.JobContext)
	}
	if m.RunAfter != nil {
		t := m.RunAfter.UTC()
		j.RunAfter = &t
	}
	if m.LatestError != nil {
		j.LatestError = &distributed.ErrorReason{Error: distributed.ErrorDetail{
			Name:    m.LatestError.Name,
			Message: m.LatestError.Message,
			Stack:   m.LatestError.Stack,
		}}
	}
	return j
}

func fromWorkerModel(m *workerModel) *distributed.Worker {
	return &distributed.Worker{
		ID:           m.ID,
		Hostname:     m.Hostname,
		RegisteredAt: m.RegisteredAt.UTC(),
		LastSeenAt:   m.LastSeenAt.UTC(),
	}
}
