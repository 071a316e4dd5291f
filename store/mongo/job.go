package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// GenerateJobID returns a new job TypeID.
func (s *Store) GenerateJobID(_ context.Context) (string, error) {
	return id.NewJobID().String(), nil
}

// GetJobStatus returns the status of a row.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (distributed.Status, error) {
	var m struct {
		Status string `bson:"status"`
	}
	opts := options.FindOne().SetProjection(bson.M{"status": 1})
	if err := s.jobs().FindOne(ctx, bson.M{"_id": jobID}, opts).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return "", distributed.ErrJobNotFound
		}
		return "", fmt.Errorf("queuesched/mongo: get job status: %w", err)
	}
	return distributed.Status(m.Status), nil
}

// GetJob retrieves a row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*distributed.Job, error) {
	var m jobModel
	if err := s.jobs().FindOne(ctx, bson.M{"_id": jobID}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, distributed.ErrJobNotFound
		}
		return nil, fmt.Errorf("queuesched/mongo: get job: %w", err)
	}
	return fromJobModel(&m), nil
}

// EnqueueJob inserts a row, owned by workerID when it is not empty.
func (s *Store) EnqueueJob(ctx context.Context, workerID string, w distributed.WritableJob) error {
	t := s.clock()
	m := &jobModel{
		ID:         w.JobID,
		QueueName:  w.QueueName,
		JobName:    w.JobName,
		JobContext: w.JobContext,
		GroupKey:   w.GroupKey,
		Status:     string(distributed.StatusScheduled),
		UpdatedAt:  t,
		CreatedAt:  t,
	}
	if w.RunAfter != nil {
		ra := w.RunAfter.UTC()
		m.RunAfter = &ra
	}
	if workerID != "" {
		m.WorkerID = &workerID
		m.Status = string(distributed.StatusProcessing)
	}

	if _, err := s.jobs().InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return distributed.ErrJobAlreadyExists
		}
		return fmt.Errorf("queuesched/mongo: enqueue job: %w", err)
	}
	return nil
}

// ClaimOwnership assigns up to limit eligible rows to workerID and returns
// their pre-claim snapshots. Each row is taken with one FindOneAndUpdate,
// so concurrent claimers never share a row.
func (s *Store) ClaimOwnership(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*distributed.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	t := s.clock()
	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":    string(distributed.StatusScheduled),
			"worker_id": nil,
			"$or": bson.A{
				bson.M{"run_after": nil},
				bson.M{"run_after": bson.M{"$lte": t}},
			},
		},
		bson.M{
			"status":     string(distributed.StatusProcessing),
			"updated_at": bson.M{"$lte": t.Add(-staleAfter)},
		},
	}}
	update := bson.M{"$set": bson.M{
		"worker_id":  workerID,
		"status":     string(distributed.StatusProcessing),
		"updated_at": t,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	jobs := make([]*distributed.Job, 0, limit)
	for len(jobs) < limit {
		var m jobModel
		err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return jobs, fmt.Errorf("queuesched/mongo: claim ownership: %w", err)
		}
		jobs = append(jobs, fromJobModel(&m))
	}

	if len(jobs) > 0 {
		s.touchWorker(ctx, workerID, t)
	}
	return jobs, nil
}

// RefreshOwnership bumps updated_at on rows still owned by workerID.
func (s *Store) RefreshOwnership(ctx context.Context, workerID string, jobIDs []string) error {
	if workerID == "" {
		return nil
	}
	t := s.clock()
	if len(jobIDs) > 0 {
		_, err := s.jobs().UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": jobIDs}, "worker_id": workerID},
			bson.M{"$set": bson.M{"updated_at": t}},
		)
		if err != nil {
			return fmt.Errorf("queuesched/mongo: refresh ownership: %w", err)
		}
	}
	s.touchWorker(ctx, workerID, t)
	return nil
}

// DeleteJob removes a row owned by workerID, or an unowned row when
// workerID is empty.
func (s *Store) DeleteJob(ctx context.Context, workerID, jobID string) error {
	filter := bson.M{"_id": jobID, "worker_id": nil}
	if workerID != "" {
		filter["worker_id"] = workerID
	}
	if _, err := s.jobs().DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("queuesched/mongo: delete job: %w", err)
	}
	return nil
}

// BackoffOwnedJob releases an owned row to run again after offset.
func (s *Store) BackoffOwnedJob(ctx context.Context, workerID, jobID string, attempt int, offset time.Duration) error {
	if workerID == "" {
		return nil
	}
	t := s.clock()
	_, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID, "worker_id": workerID},
		bson.M{"$set": bson.M{
			"worker_id":      nil,
			"status":         string(distributed.StatusScheduled),
			"retry_attempts": attempt,
			"run_after":      t.Add(offset),
			"updated_at":     t,
		}},
	)
	if err != nil {
		return fmt.Errorf("queuesched/mongo: backoff job: %w", err)
	}
	return nil
}

// ErrorOwnedJob moves an owned row into errored.
func (s *Store) ErrorOwnedJob(ctx context.Context, workerID, jobID string, reason distributed.ErrorReason) error {
	if workerID == "" {
		return nil
	}
	_, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID, "worker_id": workerID},
		bson.M{"$set": bson.M{
			"worker_id":    nil,
			"status":       string(distributed.StatusErrored),
			"run_after":    nil,
			"latest_error": toErrorReasonModel(reason),
			"updated_at":   s.clock(),
		}},
	)
	if err != nil {
		return fmt.Errorf("queuesched/mongo: error job: %w", err)
	}
	return nil
}

// RetryErroredJob moves an errored row back to scheduled.
func (s *Store) RetryErroredJob(ctx context.Context, jobID string) error {
	res, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID, "status": string(distributed.StatusErrored)},
		bson.M{"$set": bson.M{
			"status":         string(distributed.StatusScheduled),
			"retry_attempts": 0,
			"latest_error":   nil,
			"run_after":      nil,
			"updated_at":     s.clock(),
		}},
	)
	if err != nil {
		return fmt.Errorf("queuesched/mongo: retry job: %w", err)
	}
	if res.MatchedCount == 0 {
		return distributed.ErrJobNotFound
	}
	return nil
}
