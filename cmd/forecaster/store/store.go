// Package store selects the snapshot storage backend for the forecaster.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/moodcast/cmd/forecaster/config"
	"github.com/HatiCode/moodcast/pkg/storage"
)

// New returns the backend named by cfg.Storage.
func New(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Storage {
	case "redis":
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		return s, nil
	case "memory", "":
		if cfg.MemoryTTL > 0 {
			logger.Info("using in-memory storage", "ttl", cfg.MemoryTTL)
			return storage.NewMemoryStoreWithTTL(cfg.MemoryTTL, cleanupInterval(cfg.MemoryTTL)), nil
		}
		logger.Info("using in-memory storage")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if iv := ttl / 10; iv > time.Second {
		return min(iv, time.Hour)
	}
	return time.Second
}

// Close releases the resources held by a backend returned from New.
func Close(s storage.Store) error {
	switch s := s.(type) {
	case *storage.RedisStore:
		return s.Close()
	case *storage.MemoryStore:
		s.Stop()
	}
	return nil
}

// Ping reports whether the backend is reachable. Memory backends always are.
func Ping(ctx context.Context, s storage.Store) error {
	if p, ok := s.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
