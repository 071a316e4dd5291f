package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/queuesched/store"
)

// Collection name constants.
const (
	colJobs    = "queuesched_jobs"
	colWorkers = "queuesched_workers"
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock replaces the time source. Times are truncated to
// milliseconds.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes the store relies on. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("queuesched/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

func (s *Store) jobs() *mongod.Collection    { return s.db.Collection(colJobs) }
func (s *Store) workers() *mongod.Collection { return s.db.Collection(colWorkers) }

// clock returns the current UTC time truncated to what BSON dates hold.
func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim scan: due scheduled rows in creation order.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
				{Key: "_id", Value: 1},
			}},
			// Stale reclaim and per-worker release.
			{Keys: bson.D{
				{Key: "worker_id", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
		},
		colWorkers: {
			{Keys: bson.D{{Key: "registered_at", Value: 1}}},
			{Keys: bson.D{{Key: "last_seen_at", Value: 1}}},
		},
	}
}
