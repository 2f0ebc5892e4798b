package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/careops/internal/config"
)

// Open returns the store selected by cfg.Type
func Open(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Type {
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN, logger)
	case "sqlite", "":
		return NewSQLiteStore(cfg.LocalPath, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
