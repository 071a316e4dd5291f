package redis

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// RegisterWorker records a new worker and returns its id.
func (s *Store) RegisterWorker(ctx context.Context) (string, error) {
	host, _ := os.Hostname()
	workerID := id.NewWorkerID().String()
	now := s.nowMicros()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.workerKey(workerID),
		"worker_id", workerID,
		"hostname", host,
		"registered_at", now,
		"last_seen_at", now,
	)
	pipe.ZAdd(ctx, s.workersKey(), redis.Z{Score: float64(now), Member: workerID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queuesched/redis: register worker: %w", err)
	}
	return workerID, nil
}

// DeregisterWorker releases the worker's processing rows back to scheduled
// and removes the worker record.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	keys := []string{
		s.ownedKey(workerID), s.scheduledKey(), s.processingKey(),
		s.workersKey(), s.workerKey(workerID),
	}
	released, err := deregisterScript.Run(ctx, s.client, keys, workerID, s.prefix, s.nowMicros()).Int()
	if err != nil {
		return fmt.Errorf("queuesched/redis: deregister worker: %w", err)
	}
	if released > 0 {
		s.logger.Info("released owned jobs",
			slog.String("worker_id", workerID),
			slog.Int("released", released),
		)
	}
	return nil
}

// ListWorkers returns the registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*distributed.Worker, error) {
	ids, err := s.client.ZRange(ctx, s.workersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queuesched/redis: list workers: %w", err)
	}

	workers := make([]*distributed.Worker, 0, len(ids))
	for _, workerID := range ids {
		m, err := s.client.HGetAll(ctx, s.workerKey(workerID)).Result()
		if err != nil {
			return nil, fmt.Errorf("queuesched/redis: list workers: %w", err)
		}
		if len(m) == 0 {
			continue
		}
		w := &distributed.Worker{ID: m["worker_id"], Hostname: m["hostname"]}
		if w.RegisteredAt, err = parseMicros(m["registered_at"]); err != nil {
			return nil, fmt.Errorf("queuesched/redis: parse registered_at: %w", err)
		}
		if w.LastSeenAt, err = parseMicros(m["last_seen_at"]); err != nil {
			return nil, fmt.Errorf("queuesched/redis: parse last_seen_at: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}
