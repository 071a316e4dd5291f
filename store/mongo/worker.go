package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/id"
)

// RegisterWorker records a new worker and returns its id.
func (s *Store) RegisterWorker(ctx context.Context) (string, error) {
	host, _ := os.Hostname()
	t := s.clock()
	m := &workerModel{
		ID:           id.NewWorkerID().String(),
		Hostname:     host,
		RegisteredAt: t,
		LastSeenAt:   t,
	}
	if _, err := s.workers().InsertOne(ctx, m); err != nil {
		return "", fmt.Errorf("queuesched/mongo: register worker: %w", err)
	}
	return m.ID, nil
}

// DeregisterWorker releases the worker's processing rows back to scheduled
// and removes the worker record.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	res, err := s.jobs().UpdateMany(ctx,
		bson.M{"worker_id": workerID, "status": string(distributed.StatusProcessing)},
		bson.M{"$set": bson.M{
			"worker_id":  nil,
			"status":     string(distributed.StatusScheduled),
			"updated_at": s.clock(),
		}},
	)
	if err != nil {
		return fmt.Errorf("queuesched/mongo: release worker jobs: %w", err)
	}
	if res.ModifiedCount > 0 {
		s.logger.Info("released owned jobs",
			slog.String("worker_id", workerID),
			slog.Int64("released", res.ModifiedCount),
		)
	}

	if _, err := s.workers().DeleteOne(ctx, bson.M{"_id": workerID}); err != nil {
		return fmt.Errorf("queuesched/mongo: deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns the registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*distributed.Worker, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.workers().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("queuesched/mongo: list workers: %w", err)
	}
	defer cursor.Close(ctx)

	var models []workerModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("queuesched/mongo: decode workers: %w", err)
	}

	workers := make([]*distributed.Worker, len(models))
	for i := range models {
		workers[i] = fromWorkerModel(&models[i])
	}
	return workers, nil
}

// touchWorker records liveness; failures only matter for ListWorkers.
func (s *Store) touchWorker(ctx context.Context, workerID string, t time.Time) {
	_, err := s.workers().UpdateOne(ctx,
		bson.M{"_id": workerID},
		bson.M{"$set": bson.M{"last_seen_at": t}},
	)
	if err != nil {
		s.logger.Warn("failed to touch worker",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()),
		)
	}
}
