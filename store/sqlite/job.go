package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

const jobColumns = `job_id, queue_name, job_name, group_key, job_context, run_after,
	worker_id, status, latest_error, retry_attempts, updated_at, created_at`

// GenerateJobID returns a new job TypeID.
func (s *Store) GenerateJobID(_ context.Context) (string, error) {
	return id.NewJobID().String(), nil
}

// GetJobStatus returns the status of a row.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (distributed.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM queuesched_jobs WHERE job_id = ?`, jobID,
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return "", distributed.ErrJobNotFound
		}
		return "", fmt.Errorf("queuesched/sqlite: get job status: %w", err)
	}
	return distributed.ParseStatus(status)
}

// GetJob retrieves a row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*distributed.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM queuesched_jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, distributed.ErrJobNotFound
		}
		return nil, fmt.Errorf("queuesched/sqlite: get job: %w", err)
	}
	return j, nil
}

// EnqueueJob inserts a row, owned by workerID when it is not empty.
func (s *Store) EnqueueJob(ctx context.Context, workerID string, w distributed.WritableJob) error {
	status := distributed.StatusScheduled
	var owner any
	if workerID != "" {
		status = distributed.StatusProcessing
		owner = workerID
	}
	now := s.nowMicros()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queuesched_jobs (
			job_id, queue_name, job_name, group_key, job_context, run_after,
			worker_id, status, retry_attempts, updated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		w.JobID, w.QueueName, w.JobName, nullString(w.GroupKey), nullJSON(w.JobContext),
		nullMicros(w.RunAfter), owner, string(status), now, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return distributed.ErrJobAlreadyExists
		}
		return fmt.Errorf("queuesched/sqlite: enqueue job: %w", err)
	}
	return nil
}

// ClaimOwnership assigns up to limit eligible rows to workerID and returns
// their pre-claim snapshots. The select and update share one IMMEDIATE
// transaction, which excludes every other writer on the file.
func (s *Store) ClaimOwnership(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*distributed.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-staleAfter).UnixMicro()

	var jobs []*distributed.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+jobColumns+`
			FROM queuesched_jobs
			WHERE (status = 'scheduled' AND worker_id IS NULL
					AND (run_after IS NULL OR run_after <= ?))
				OR (status = 'processing' AND updated_at <= ?)
			ORDER BY created_at, job_id
			LIMIT ?`,
			nowMicros, cutoff, limit,
		)
		if err != nil {
			return err
		}
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			jobs = append(jobs, j)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		args := make([]any, 0, len(jobs)+2)
		args = append(args, workerID, nowMicros)
		for _, j := range jobs {
			args = append(args, j.JobID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE queuesched_jobs SET worker_id = ?, status = 'processing', updated_at = ?
			WHERE job_id IN (`+placeholders(len(jobs))+`)`,
			args...,
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE queuesched_workers SET last_seen_at = ? WHERE worker_id = ?`,
			nowMicros, workerID,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("queuesched/sqlite: claim ownership: %w", err)
	}
	return jobs, nil
}

// RefreshOwnership bumps updated_at on rows still owned by workerID.
func (s *Store) RefreshOwnership(ctx context.Context, workerID string, jobIDs []string) error {
	if workerID == "" {
		return nil
	}
	now := s.nowMicros()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if len(jobIDs) > 0 {
			args := make([]any, 0, len(jobIDs)+2)
			args = append(args, now, workerID)
			for _, jobID := range jobIDs {
				args = append(args, jobID)
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE queuesched_jobs SET updated_at = ?
				WHERE worker_id = ? AND job_id IN (`+placeholders(len(jobIDs))+`)`,
				args...,
			)
			if err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE queuesched_workers SET last_seen_at = ? WHERE worker_id = ?`,
			now, workerID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: refresh ownership: %w", err)
	}
	return nil
}

// DeleteJob removes a row owned by workerID, or an unowned row when
// workerID is empty.
func (s *Store) DeleteJob(ctx context.Context, workerID, jobID string) error {
	var err error
	if workerID == "" {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM queuesched_jobs WHERE job_id = ? AND worker_id IS NULL`, jobID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM queuesched_jobs WHERE job_id = ? AND worker_id = ?`, jobID, workerID)
	}
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: delete job: %w", err)
	}
	return nil
}

// BackoffOwnedJob releases an owned row to run again after offset.
func (s *Store) BackoffOwnedJob(ctx context.Context, workerID, jobID string, attempt int, offset time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE queuesched_jobs SET
			worker_id = NULL,
			status = 'scheduled',
			retry_attempts = ?,
			run_after = ?,
			updated_at = ?
		WHERE job_id = ? AND worker_id = ?`,
		attempt, now.Add(offset).UnixMicro(), now.UnixMicro(), jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: backoff job: %w", err)
	}
	return nil
}

// ErrorOwnedJob moves an owned row into errored.
func (s *Store) ErrorOwnedJob(ctx context.Context, workerID, jobID string, reason distributed.ErrorReason) error {
	data, err := json.Marshal(reason)
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: encode error reason: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE queuesched_jobs SET
			worker_id = NULL,
			status = 'errored',
			run_after = NULL,
			latest_error = ?,
			updated_at = ?
		WHERE job_id = ? AND worker_id = ?`,
		string(data), s.nowMicros(), jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: error job: %w", err)
	}
	return nil
}

// RetryErroredJob moves an errored row back to scheduled.
func (s *Store) RetryErroredJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queuesched_jobs SET
			status = 'scheduled',
			retry_attempts = 0,
			latest_error = NULL,
			run_after = NULL,
			updated_at = ?
		WHERE job_id = ? AND status = 'errored'`,
		s.nowMicros(), jobID,
	)
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: retry job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: retry job: %w", err)
	}
	if n == 0 {
		return distributed.ErrJobNotFound
	}
	return nil
}

// RegisterWorker records a new worker.
func (s *Store) RegisterWorker(ctx context.Context) (string, error) {
	workerID := id.NewWorkerID().String()
	host, _ := os.Hostname()
	now := s.nowMicros()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queuesched_workers (worker_id, hostname, registered_at, last_seen_at) VALUES (?, ?, ?, ?)`,
		workerID, host, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("queuesched/sqlite: register worker: %w", err)
	}
	return workerID, nil
}

// DeregisterWorker removes the worker and releases its rows.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE queuesched_jobs SET worker_id = NULL, status = 'scheduled', updated_at = ?
			WHERE worker_id = ? AND status = 'processing'`,
			s.nowMicros(), workerID,
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM queuesched_workers WHERE worker_id = ?`, workerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("queuesched/sqlite: deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns the registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*distributed.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, hostname, registered_at, last_seen_at
		FROM queuesched_workers
		ORDER BY registered_at, worker_id`)
	if err != nil {
		return nil, fmt.Errorf("queuesched/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	var workers []*distributed.Worker
	for rows.Next() {
		var (
			w                      distributed.Worker
			registered, lastSeenAt int64
		)
		if err := rows.Scan(&w.ID, &w.Hostname, &registered, &lastSeenAt); err != nil {
			return nil, fmt.Errorf("queuesched/sqlite: list workers: %w", err)
		}
		w.RegisteredAt = fromMicros(registered)
		w.LastSeenAt = fromMicros(lastSeenAt)
		workers = append(workers, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queuesched/sqlite: list workers: %w", err)
	}
	return workers, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*distributed.Job, error) {
	var (
		j          distributed.Job
		groupKey   sql.NullString
		jobContext sql.NullString
		runAfter   sql.NullInt64
		workerID   sql.NullString
		status     string
		latestErr  sql.NullString
		updatedAt  int64
		createdAt  int64
	)
	err := row.Scan(
		&j.JobID, &j.QueueName, &j.JobName, &groupKey, &jobContext, &runAfter,
		&workerID, &status, &latestErr, &j.RetryAttempts, &updatedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if j.Status, err = distributed.ParseStatus(status); err != nil {
		return nil, err
	}
	if groupKey.Valid {
		j.GroupKey = &groupKey.String
	}
	if jobContext.Valid {
		j.JobContext = json.RawMessage(jobContext.String)
	}
	if runAfter.Valid {
		t := fromMicros(runAfter.Int64)
		j.RunAfter = &t
	}
	if workerID.Valid {
		j.WorkerID = &workerID.String
	}
	if latestErr.Valid {
		var reason distributed.ErrorReason
		if err := json.Unmarshal([]byte(latestErr.String), &reason); err != nil {
			return nil, fmt.Errorf("decode latest_error: %w", err)
		}
		j.LatestError = &reason
	}
	j.UpdatedAt = fromMicros(updatedAt)
	j.CreatedAt = fromMicros(createdAt)
	return &j, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}
