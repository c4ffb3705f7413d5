package redis

import (
	"github.com/redis/go-redis/v9"

	"inboxflow/config"
)

// NewClient creates a Redis client for dedup locks. Callers own the
// instance; no package-level client is kept.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
