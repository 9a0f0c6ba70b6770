// README: Redis client initialization for the scheduler lease, notifications and settings cache.
package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fleetdispatch/internal/config"
)

// NewRedis returns nil when no address is configured.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
