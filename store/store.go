package store

import (
	"context"

	"github.com/xraph/queuesched/backend/distributed"
)

// Store is a distributed.Accessor that also owns its schema and
// connection.
type Store interface {
	distributed.Accessor

	// ListWorkers returns the registered workers, oldest first.
	ListWorkers(ctx context.Context) ([]*distributed.Worker, error)

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
