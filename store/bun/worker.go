package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/uptrace/bun"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// RegisterWorker records a new worker.
func (s *Store) RegisterWorker(ctx context.Context) (string, error) {
	host, _ := os.Hostname()
	m := &workerModel{
		WorkerID: id.NewWorkerID().String(),
		Hostname: host,
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return "", fmt.Errorf("queuesched/bun: register worker: %w", err)
	}
	return m.WorkerID, nil
}

// DeregisterWorker removes the worker and releases its rows in one
// transaction.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*jobModel)(nil)).
			Set("worker_id = NULL").
			Set("status = 'scheduled'").
			Set("updated_at = NOW()").
			Where("worker_id = ?", workerID).
			Where("status = 'processing'").
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewDelete().
			Model((*workerModel)(nil)).
			Where("worker_id = ?", workerID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("queuesched/bun: deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns the registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*distributed.Worker, error) {
	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Order("registered_at ASC", "worker_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("queuesched/bun: list workers: %w", err)
	}

	workers := make([]*distributed.Worker, len(models))
	for i := range models {
		workers[i] = fromWorkerModel(&models[i])
	}
	return workers, nil
}

func (s *Store) touchWorker(ctx context.Context, workerID string) {
	_, err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("last_seen_at = NOW()").
		Where("worker_id = ?", workerID).
		Exec(ctx)
	if err != nil {
		s.logger.Warn("touch worker failed",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()),
		)
	}
}
