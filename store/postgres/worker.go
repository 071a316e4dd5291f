package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// RegisterWorker records a new worker.
func (s *Store) RegisterWorker(ctx context.Context) (string, error) {
	workerID := id.NewWorkerID().String()
	host, _ := os.Hostname()

	_, err := s.pool.Exec(ctx,
		s.sql(`INSERT INTO {{prefix}}workers (worker_id, hostname) VALUES ($1, $2)`),
		workerID, host,
	)
	if err != nil {
		return "", fmt.Errorf("queuesched/postgres: register worker: %w", err)
	}
	return workerID, nil
}

// DeregisterWorker removes the worker and releases its rows in one
// transaction.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, s.sql(`
			UPDATE {{prefix}}jobs SET worker_id = NULL, status = 'scheduled', updated_at = NOW()
			WHERE worker_id = $1 AND status = 'processing'`),
			workerID,
		)
		if err != nil {
			return err
		}
		if n := tag.RowsAffected(); n > 0 {
			s.logger.Info("released owned jobs",
				slog.String("worker_id", workerID),
				slog.Int64("jobs", n),
			)
		}
		_, err = tx.Exec(ctx, s.sql(`DELETE FROM {{prefix}}workers WHERE worker_id = $1`), workerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("queuesched/postgres: deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns the registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*distributed.Worker, error) {
	rows, err := s.pool.Query(ctx, s.sql(`
		SELECT worker_id, hostname, registered_at, last_seen_at
		FROM {{prefix}}workers
		ORDER BY registered_at, worker_id`))
	if err != nil {
		return nil, fmt.Errorf("queuesched/postgres: list workers: %w", err)
	}

	workers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*distributed.Worker, error) {
		var w distributed.Worker
		if err := row.Scan(&w.ID, &w.Hostname, &w.RegisteredAt, &w.LastSeenAt); err != nil {
			return nil, err
		}
		w.RegisteredAt = w.RegisteredAt.UTC()
		w.LastSeenAt = w.LastSeenAt.UTC()
		return &w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("queuesched/postgres: list workers: %w", err)
	}
	return workers, nil
}

// touchWorker records worker liveness. Failures are logged only.
func (s *Store) touchWorker(ctx context.Context, workerID string) {
	_, err := s.pool.Exec(ctx,
		s.sql(`UPDATE {{prefix}}workers SET last_seen_at = NOW() WHERE worker_id = $1`),
		workerID,
	)
	if err != nil {
		s.logger.Warn("touch worker failed",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()),
		)
	}
}
