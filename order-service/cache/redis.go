package cache

import (
	"context"
	"fmt"
	"time"

	"minishop/order-service/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg config.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// IsUserVerified reports whether a positive user lookup is still cached.
// Only positive results are ever cached so a stale entry can never let an
// unknown user through after the cache expires.
func IsUserVerified(ctx context.Context, rdb *redis.Client, userID int) bool {
	key := fmt.Sprintf("user_verified:%d", userID)
	return rdb.Exists(ctx, key).Val() > 0
}

func MarkUserVerified(ctx context.Context, rdb *redis.Client, userID int, ttl time.Duration) error {
	key := fmt.Sprintf("user_verified:%d", userID)
	return rdb.Set(ctx, key, 1, ttl).Err()
}
