package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

const jobColumns = `job_id, queue_name, job_name, group_key, job_context, run_after,
	worker_id, status::text, latest_error, retry_attempts, updated_at, created_at`

// GenerateJobID returns a new job TypeID.
func (s *Store) GenerateJobID(_ context.Context) (string, error) {
	return id.NewJobID().String(), nil
}

// GetJobStatus returns the status of a row.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (distributed.Status, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		s.sql(`SELECT status::text FROM {{prefix}}jobs WHERE job_id = $1`),
		jobID,
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return "", distributed.ErrJobNotFound
		}
		return "", fmt.Errorf("queuesched/postgres: get job status: %w", err)
	}
	return distributed.Status(status), nil
}

// GetJob retrieves a row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*distributed.Job, error) {
	row := s.pool.QueryRow(ctx,
		s.sql(`SELECT `+jobColumns+` FROM {{prefix}}jobs WHERE job_id = $1`),
		jobID,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, distributed.ErrJobNotFound
		}
		return nil, fmt.Errorf("queuesched/postgres: get job: %w", err)
	}
	return j, nil
}

// EnqueueJob inserts a row, owned by workerID when it is not empty.
func (s *Store) EnqueueJob(ctx context.Context, workerID string, w distributed.WritableJob) error {
	status := distributed.StatusScheduled
	if workerID != "" {
		status = distributed.StatusProcessing
	}

	_, err := s.pool.Exec(ctx, s.sql(`
		INSERT INTO {{prefix}}jobs (
			job_id, queue_name, job_name, group_key, job_context, run_after,
			worker_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::{{prefix}}job_status)`),
		w.JobID, w.QueueName, w.JobName, w.GroupKey, jsonOrNil(w.JobContext), w.RunAfter,
		nullable(workerID), string(status),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return distributed.ErrJobAlreadyExists
		}
		return fmt.Errorf("queuesched/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimOwnership assigns up to limit eligible rows to workerID and returns
// their pre-claim snapshots. Candidates are locked with FOR UPDATE SKIP
// LOCKED so concurrent claims never block on or share a row.
func (s *Store) ClaimOwnership(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*distributed.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, s.sql(`
		WITH candidates AS (
			SELECT job_id, queue_name, job_name, group_key, job_context, run_after,
				worker_id, status, latest_error, retry_attempts, updated_at, created_at
			FROM {{prefix}}jobs
			WHERE (status = 'scheduled' AND worker_id IS NULL
					AND (run_after IS NULL OR run_after <= NOW()))
				OR (status = 'processing'
					AND updated_at <= NOW() - $3::bigint * INTERVAL '1 microsecond')
			ORDER BY created_at, job_id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE {{prefix}}jobs AS j
		SET worker_id = $1, status = 'processing', updated_at = NOW()
		FROM candidates AS c
		WHERE j.job_id = c.job_id
		RETURNING c.job_id, c.queue_name, c.job_name, c.group_key, c.job_context,
			c.run_after, c.worker_id, c.status::text, c.latest_error,
			c.retry_attempts, c.updated_at, c.created_at`),
		workerID, limit, staleAfter.Microseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("queuesched/postgres: claim ownership: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*distributed.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, fmt.Errorf("queuesched/postgres: claim ownership: %w", err)
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
		_, err := s.pool.Exec(ctx, s.sql(`
			UPDATE {{prefix}}jobs SET updated_at = NOW()
			WHERE worker_id = $1 AND job_id = ANY($2)`),
			workerID, jobIDs,
		)
		if err != nil {
			return fmt.Errorf("queuesched/postgres: refresh ownership: %w", err)
		}
	}
	s.touchWorker(ctx, workerID)
	return nil
}

// DeleteJob removes a row owned by workerID, or an unowned row when
// workerID is empty.
func (s *Store) DeleteJob(ctx context.Context, workerID, jobID string) error {
	_, err := s.pool.Exec(ctx,
		s.sql(`DELETE FROM {{prefix}}jobs WHERE job_id = $1 AND worker_id IS NOT DISTINCT FROM $2::text`),
		jobID, nullable(workerID),
	)
	if err != nil {
		return fmt.Errorf("queuesched/postgres: delete job: %w", err)
	}
	return nil
}

// BackoffOwnedJob releases an owned row to run again after offset.
func (s *Store) BackoffOwnedJob(ctx context.Context, workerID, jobID string, attempt int, offset time.Duration) error {
	_, err := s.pool.Exec(ctx, s.sql(`
		UPDATE {{prefix}}jobs SET
			worker_id = NULL,
			status = 'scheduled',
			retry_attempts = $3,
			run_after = NOW() + $4::bigint * INTERVAL '1 microsecond',
			updated_at = NOW()
		WHERE job_id = $1 AND worker_id = $2`),
		jobID, workerID, attempt, offset.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("queuesched/postgres: backoff job: %w", err)
	}
	return nil
}

// ErrorOwnedJob moves an owned row into errored.
func (s *Store) ErrorOwnedJob(ctx context.Context, workerID, jobID string, reason distributed.ErrorReason) error {
	data, err := json.Marshal(reason)
	if err != nil {
		return fmt.Errorf("queuesched/postgres: encode error reason: %w", err)
	}

	_, err = s.pool.Exec(ctx, s.sql(`
		UPDATE {{prefix}}jobs SET
			worker_id = NULL,
			status = 'errored',
			run_after = NULL,
			latest_error = $3,
			updated_at = NOW()
		WHERE job_id = $1 AND worker_id = $2`),
		jobID, workerID, data,
	)
	if err != nil {
		return fmt.Errorf("queuesched/postgres: error job: %w", err)
	}
	return nil
}

// RetryErroredJob moves an errored row back to scheduled.
func (s *Store) RetryErroredJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, s.sql(`
		UPDATE {{prefix}}jobs SET
			status = 'scheduled',
			retry_attempts = 0,
			latest_error = NULL,
			run_after = NULL,
			updated_at = NOW()
		WHERE job_id = $1 AND status = 'errored'`),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("queuesched/postgres: retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return distributed.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*distributed.Job, error) {
	var (
		j          distributed.Job
		status     string
		jobContext []byte
		latestErr  []byte
	)
	err := row.Scan(
		&j.JobID, &j.QueueName, &j.JobName, &j.GroupKey, &jobContext, &j.RunAfter,
		&j.WorkerID, &status, &latestErr, &j.RetryAttempts, &j.UpdatedAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = distributed.Status(status)
	if len(jobContext) > 0 {
		j.JobContext = jobContext
	}
	if len(latestErr) > 0 {
		var reason distributed.ErrorReason
		if err := json.Unmarshal(latestErr, &reason); err != nil {
			return nil, fmt.Errorf("decode latest_error: %w", err)
		}
		j.LatestError = &reason
	}
	if j.RunAfter != nil {
		t := j.RunAfter.UTC()
		j.RunAfter = &t
	}
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	return &j, nil
}

func jsonOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
