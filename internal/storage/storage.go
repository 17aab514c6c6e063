package storage

import (
	"github.com/redis/go-redis/v9"

	"vtuber-backend/internal/config"
	"vtuber-backend/pkg/logger"
)

// New builds and initializes the store selected by cfg.Type. A store that
// fails to initialize falls back to memory so the service can still run.
func New(cfg config.StorageConfig, maxMessages int) HistoryStore {
	var store HistoryStore
	switch cfg.Type {
	case "disk":
		store = NewDiskStorage(cfg.DataDir, cfg.CacheSize, maxMessages)
	case "redis":
		store = NewRedisStorage(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.HistoryTTL, maxMessages)
	default:
		return NewMemoryStorage(maxMessages)
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize %s storage, falling back to memory: %v", cfg.Type, err)
		store.Close()
		return NewMemoryStorage(maxMessages)
	}
	logger.Infof("Using %s history storage", cfg.Type)
	return store
}
