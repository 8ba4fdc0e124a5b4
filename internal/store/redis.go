package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tadeleke/corebank/internal/domain"
)

const refreshKeyPrefix = "refresh:"

// RedisTokens keeps the active refresh token per user in Redis, expiring
// with the token itself.
type RedisTokens struct {
	rdb *redis.Client
}

func NewRedisTokens(rdb *redis.Client) *RedisTokens {
	return &RedisTokens{rdb: rdb}
}

func (r *RedisTokens) SaveRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, refreshKeyPrefix+userID, token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisTokens) RefreshToken(ctx context.Context, userID string) (string, error) {
	val, err := r.rdb.Get(ctx, refreshKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return val, nil
}

func (r *RedisTokens) DeleteRefreshToken(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, refreshKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
