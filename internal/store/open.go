package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/config"
)

// Open builds the Store for the configured driver. When the backend cannot be
// reached the store degrades to in-memory records so the conversation keeps
// working without persistence.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Store {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Error("Storage unavailable, continuing without persistence",
			zap.String("driver", cfg.StoreDriver),
			zap.Error(err))
		backend = NewMemoryBackend()
	} else {
		logger.Info("Storage ready", zap.String("driver", cfg.StoreDriver))
	}
	return New(backend, logger)
}

func openBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite, "":
		return NewSQLiteBackend(cfg.DatabaseURL)
	case config.DriverPostgres:
		return NewPostgresBackend(cfg.DatabaseURL)
	case config.DriverMinIO:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return NewMinIOBackend(ctx, MinIOOptions{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Secure:    cfg.MinIOSecure,
		})
	case config.DriverMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
