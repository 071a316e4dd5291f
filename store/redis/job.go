package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// GenerateJobID returns a new job TypeID.
func (s *Store) GenerateJobID(_ context.Context) (string, error) {
	return id.NewJobID().String(), nil
}

// GetJobStatus returns the status of a row.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (distributed.Status, error) {
	status, err := s.client.HGet(ctx, s.jobKey(jobID), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", distributed.ErrJobNotFound
		}
		return "", fmt.Errorf("queuesched/redis: get job status: %w", err)
	}
	return distributed.ParseStatus(status)
}

// GetJob retrieves a row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*distributed.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("queuesched/redis: get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, distributed.ErrJobNotFound
	}
	j, err := mapToJob(fields)
	if err != nil {
		return nil, fmt.Errorf("queuesched/redis: get job: %w", err)
	}
	return j, nil
}

// EnqueueJob stores the row as a Hash, owned by workerID when it is not
// empty.
func (s *Store) EnqueueJob(ctx context.Context, workerID string, w distributed.WritableJob) error {
	now := s.nowMicros()
	status := distributed.StatusScheduled
	if workerID != "" {
		status = distributed.StatusProcessing
	}

	score := now
	runAfter := ""
	if w.RunAfter != nil {
		score = w.RunAfter.UTC().UnixMicro()
		runAfter = strconv.FormatInt(score, 10)
	}

	args := []any{
		w.JobID, workerID, score, now,
		"job_id", w.JobID,
		"queue_name", w.QueueName,
		"job_name", w.JobName,
		"job_context", string(w.JobContext),
		"run_after", runAfter,
		"worker_id", workerID,
		"status", string(status),
		"retry_attempts", 0,
		"latest_error", "",
		"updated_at", now,
		"created_at", now,
	}
	if w.GroupKey != nil {
		args = append(args, "group_key", *w.GroupKey)
	}

	keys := []string{s.jobKey(w.JobID), s.scheduledKey(), s.processingKey(), s.ownedKey(workerID)}
	inserted, err := enqueueScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("queuesched/redis: enqueue job: %w", err)
	}
	if inserted == 0 {
		return distributed.ErrJobAlreadyExists
	}
	return nil
}

// ClaimOwnership assigns up to limit due scheduled rows, then stale
// processing rows, to workerID and returns their pre-claim snapshots.
// Scheduled rows come out in run_after order.
func (s *Store) ClaimOwnership(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*distributed.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.nowMicros()
	cutoff := now - staleAfter.Microseconds()
	keys := []string{s.scheduledKey(), s.processingKey(), s.ownedKey(workerID), s.workerKey(workerID)}

	snapshots, err := claimScript.Run(ctx, s.client, keys, workerID, limit, now, cutoff, s.prefix).Slice()
	if err != nil {
		return nil, fmt.Errorf("queuesched/redis: claim ownership: %w", err)
	}

	jobs := make([]*distributed.Job, 0, len(snapshots))
	for _, raw := range snapshots {
		flat, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("queuesched/redis: claim ownership: unexpected reply %T", raw)
		}
		j, err := mapToJob(pairs(flat))
		if err != nil {
			return nil, fmt.Errorf("queuesched/redis: claim ownership: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// RefreshOwnership bumps updated_at on rows still owned by workerID.
func (s *Store) RefreshOwnership(ctx context.Context, workerID string, jobIDs []string) error {
	if workerID == "" {
		return nil
	}
	args := make([]any, 0, len(jobIDs)+3)
	args = append(args, workerID, s.nowMicros(), s.prefix)
	for _, jobID := range jobIDs {
		args = append(args, jobID)
	}

	keys := []string{s.processingKey(), s.workerKey(workerID)}
	if err := refreshScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("queuesched/redis: refresh ownership: %w", err)
	}
	return nil
}

// DeleteJob removes a row owned by workerID, or an unowned row when
// workerID is empty.
func (s *Store) DeleteJob(ctx context.Context, workerID, jobID string) error {
	keys := []string{s.jobKey(jobID), s.scheduledKey(), s.processingKey(), s.erroredKey(), s.ownedKey(workerID)}
	if err := deleteScript.Run(ctx, s.client, keys, workerID, jobID).Err(); err != nil {
		return fmt.Errorf("queuesched/redis: delete job: %w", err)
	}
	return nil
}

// BackoffOwnedJob releases an owned row to run again after offset.
func (s *Store) BackoffOwnedJob(ctx context.Context, workerID, jobID string, attempt int, offset time.Duration) error {
	now := s.nowMicros()
	keys := []string{s.jobKey(jobID), s.scheduledKey(), s.processingKey(), s.ownedKey(workerID)}
	err := backoffScript.Run(ctx, s.client, keys,
		workerID, jobID, attempt, now+offset.Microseconds(), now,
	).Err()
	if err != nil {
		return fmt.Errorf("queuesched/redis: backoff job: %w", err)
	}
	return nil
}

// ErrorOwnedJob moves an owned row into errored.
func (s *Store) ErrorOwnedJob(ctx context.Context, workerID, jobID string, reason distributed.ErrorReason) error {
	data, err := json.Marshal(reason)
	if err != nil {
		return fmt.Errorf("queuesched/redis: encode error reason: %w", err)
	}
	keys := []string{s.jobKey(jobID), s.processingKey(), s.erroredKey(), s.ownedKey(workerID)}
	if err := errorScript.Run(ctx, s.client, keys, workerID, jobID, string(data), s.nowMicros()).Err(); err != nil {
		return fmt.Errorf("queuesched/redis: error job: %w", err)
	}
	return nil
}

// RetryErroredJob moves an errored row back to scheduled.
func (s *Store) RetryErroredJob(ctx context.Context, jobID string) error {
	keys := []string{s.jobKey(jobID), s.scheduledKey(), s.erroredKey()}
	moved, err := retryScript.Run(ctx, s.client, keys, jobID, s.nowMicros()).Int()
	if err != nil {
		return fmt.Errorf("queuesched/redis: retry job: %w", err)
	}
	if moved == 0 {
		return distributed.ErrJobNotFound
	}
	return nil
}

// pairs turns a flat HGETALL reply into a field map.
func pairs(flat []any) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		m[k] = v
	}
	return m
}

func mapToJob(m map[string]string) (*distributed.Job, error) {
	j := &distributed.Job{
		JobID:     m["job_id"],
		QueueName: m["queue_name"],
		JobName:   m["job_name"],
	}
	status, err := distributed.ParseStatus(m["status"])
	if err != nil {
		return nil, err
	}
	j.Status = status

	if v := m["job_context"]; v != "" {
		j.JobContext = json.RawMessage(v)
	}
	if v, ok := m["group_key"]; ok {
		j.GroupKey = &v
	}
	if v := m["worker_id"]; v != "" {
		j.WorkerID = &v
	}
	if v := m["retry_attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse retry_attempts: %w", err)
		}
		j.RetryAttempts = n
	}
	if v := m["latest_error"]; v != "" {
		var reason distributed.ErrorReason
		if err := json.Unmarshal([]byte(v), &reason); err != nil {
			return nil, fmt.Errorf("decode latest_error: %w", err)
		}
		j.LatestError = &reason
	}

	if j.RunAfter, err = parseOptionalMicros(m["run_after"]); err != nil {
		return nil, fmt.Errorf("parse run_after: %w", err)
	}
	if j.UpdatedAt, err = parseMicros(m["updated_at"]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if j.CreatedAt, err = parseMicros(m["created_at"]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return j, nil
}

func parseMicros(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}

func parseOptionalMicros(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := parseMicros(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
