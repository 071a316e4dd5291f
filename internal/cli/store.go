package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/queuesched/store"
	bunstore "github.com/xraph/queuesched/store/bun"
	"github.com/xraph/queuesched/store/memory"
	mongostore "github.com/xraph/queuesched/store/mongo"
	"github.com/xraph/queuesched/store/postgres"
	redisstore "github.com/xraph/queuesched/store/redis"
	"github.com/xraph/queuesched/store/sqlite"
)

// openStore connects the configured store. The returned func releases
// every connection it opened.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Store {
	case StorePostgres:
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.Postgres.TablePrefix != "" {
			opts = append(opts, postgres.WithTablePrefix(cfg.Postgres.TablePrefix))
		}
		s, err := postgres.New(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case StoreBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), db.Close, nil

	case StoreSQLite:
		s, err := sqlite.New(ctx, cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case StoreRedis:
		ropts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(ropts)
		opts := []redisstore.Option{redisstore.WithLogger(logger)}
		if cfg.Redis.KeyPrefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix))
		}
		return redisstore.New(client, opts...), client.Close, nil

	case StoreMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		s := mongostore.New(client.Database(cfg.Mongo.Database), mongostore.WithLogger(logger))
		return s, func() error { return client.Disconnect(context.WithoutCancel(ctx)) }, nil

	case StoreMemory:
		s := memory.New()
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q (want postgres, bun, sqlite, redis, mongo or memory)", cfg.Store)
	}
}
