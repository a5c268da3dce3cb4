package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

// openStore connects the configured backend. The returned func releases its connections.
func openStore(ctx context.Context, cfg config.Storefront, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewPostgresStore(db), func() { _ = db.Close() }, nil

	case config.BackendRedis:
		client, err := storage.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(client, cfg.RedisTTL), func() { _ = client.Close() }, nil

	case config.BackendMongo:
		client, err := storage.OpenMongo(ctx, cfg.MongoURL)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error("failed to disconnect mongo", "error", err)
			}
		}
		return storage.NewMongoStore(client.Database(cfg.MongoDatabase), "kv_store"), closeFn, nil

	case config.BackendMemory:
		logger.Warn("using in-memory storage; state is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
