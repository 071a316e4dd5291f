package bunstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// GenerateJobID returns a new job TypeID.
func (s *Store) GenerateJobID(_ context.Context) (string, error) {
	return id.NewJobID().String(), nil
}

// GetJobStatus returns the status of a row.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (distributed.Status, error) {
	var status string
	err := s.db.NewSelect().
		Model((*jobModel)(nil)).
		ColumnExpr("status::text").
		Where("job_id = ?", jobID).
		Limit(1).
		Scan(ctx, &status)
	if err != nil {
		if isNoRows(err) {
			return "", distributed.ErrJobNotFound
		}
		return "", fmt.Errorf("queuesched/bun: get job status: %w", err)
	}
	return distributed.Status(status), nil
}

// GetJob retrieves a row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*distributed.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("job_id = ?", jobID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, distributed.ErrJobNotFound
		}
		return nil, fmt.Errorf("queuesched/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// EnqueueJob inserts a row, owned by workerID when it is not empty.
func (s *Store) EnqueueJob(ctx context.Context, workerID string, w distributed.WritableJob) error {
	m := &jobModel{
		JobID:      w.JobID,
		QueueName:  w.QueueName,
		JobName:    w.JobName,
		GroupKey:   w.GroupKey,
		JobContext: w.JobContext,
		RunAfter:   w.RunAfter,
		Status:     string(distributed.StatusScheduled),
	}
	if workerID != "" {
		m.WorkerID = &workerID
		m.Status = string(distributed.StatusProcessing)
	}

	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return distributed.ErrJobAlreadyExists
		}
		return fmt.Errorf("queuesched/bun: enqueue job: %w", err)
	}
	return nil
}

// ClaimOwnership assigns up to limit eligible rows to workerID and returns
// their pre-claim snapshots, locking candidates with FOR UPDATE SKIP
// LOCKED via raw SQL.
func (s *Store) ClaimOwnership(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*distributed.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []jobModel
	err := s.db.NewRaw(`
		WITH candidates AS (
			SELECT *
			FROM queuesched_jobs
			WHERE (status = 'scheduled' AND worker_id IS NULL
					AND (run_after IS NULL OR run_after <= NOW()))
				OR (status = 'processing'
					AND updated_at <= NOW() - ?2 * INTERVAL '1 microsecond')
			ORDER BY created_at, job_id
			LIMIT ?1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queuesched_jobs AS j
		SET worker_id = ?0, status = 'processing', updated_at = NOW()
		FROM candidates AS c
		WHERE j.job_id = c.job_id
		RETURNING c.*`,
		workerID, limit, staleAfter.Microseconds(),
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("queuesched/bun: claim ownership: %w", err)
	}

	jobs := make([]*distributed.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("queuesched/bun: claim convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	if len(jobs) > 0 {
		s.touchWorker(ctx, workerID)
	}
	return jobs, nil
}

// RefreshOwnership bumps updated_at on rows still owned by workerID.
func (s *Store) RefreshOwnership(ctx context.Context, workerID string, jobIDs []string) error {
	if workerID == "" {
		return nil
	}
	if len(jobIDs) > 0 {
		_, err := s.db.NewUpdate().
			Model((*jobModel)(nil)).
			Set("updated_at = NOW()").
			Where("worker_id = ?", workerID).
			Where("job_id IN (?)", bun.In(jobIDs)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("queuesched/bun: refresh ownership: %w", err)
		}
	}
	s.touchWorker(ctx, workerID)
	return nil
}

// DeleteJob removes a row owned by workerID, or an unowned row when
// workerID is empty.
func (s *Store) DeleteJob(ctx context.Context, workerID, jobID string) error {
	_, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("job_id = ?", jobID).
		Where("worker_id IS NOT DISTINCT FROM ?", nullable(workerID)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queuesched/bun: delete job: %w", err)
	}
	return nil
}

// BackoffOwnedJob releases an owned row to run again after offset.
func (s *Store) BackoffOwnedJob(ctx context.Context, workerID, jobID string, attempt int, offset time.Duration) error {
	_, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("worker_id = NULL").
		Set("status = 'scheduled'").
		Set("retry_attempts = ?", attempt).
		Set("run_after = NOW() + ? * INTERVAL '1 microsecond'", offset.Microseconds()).
		Set("updated_at = NOW()").
		Where("job_id = ?", jobID).
		Where("worker_id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queuesched/bun: backoff job: %w", err)
	}
	return nil
}

// ErrorOwnedJob moves an owned row into errored.
func (s *Store) ErrorOwnedJob(ctx context.Context, workerID, jobID string, reason distributed.ErrorReason) error {
	data, err := json.Marshal(reason)
	if err != nil {
		return fmt.Errorf("queuesched/bun: encode error reason: %w", err)
	}

	_, err = s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("worker_id = NULL").
		Set("status = 'errored'").
		Set("run_after = NULL").
		Set("latest_error = ?", json.RawMessage(data)).
		Set("updated_at = NOW()").
		Where("job_id = ?", jobID).
		Where("worker_id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queuesched/bun: error job: %w", err)
	}
	return nil
}

// RetryErroredJob moves an errored row back to scheduled.
func (s *Store) RetryErroredJob(ctx context.Context, jobID string) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = 'scheduled'").
		Set("retry_attempts = 0").
		Set("latest_error = NULL").
		Set("run_after = NULL").
		Set("updated_at = NOW()").
		Where("job_id = ?", jobID).
		Where("status = 'errored'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queuesched/bun: retry job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return distributed.ErrJobNotFound
	}
	return nil
}
