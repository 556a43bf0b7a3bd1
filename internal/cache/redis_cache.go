package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisUserCache struct {
	client *redis.Client
	prefix string
}

// NewRedisUserCache creates a cache on an existing client. The client is
// owned by the caller.
func NewRedisUserCache(client *redis.Client, prefix string) *RedisUserCache {
	if prefix == "" {
		prefix = "delivery:user"
	}
	return &RedisUserCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisUserCache) BuildKeyByID(userID uint64) string {
	return fmt.Sprintf("%s:id:%d", c.prefix, userID)
}

func (c *RedisUserCache) BuildKeyByMemberID(memberID string) string {
	return fmt.Sprintf("%s:member:%s", c.prefix, memberID)
}

func (c *RedisUserCache) Get(ctx context.Context, key string) (*domain.User, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &user, nil
}

// Set stores user under both of its keys.
func (c *RedisUserCache) Set(ctx context.Context, user *domain.User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.BuildKeyByID(user.ID), data, ttl)
	pipe.Set(ctx, c.BuildKeyByMemberID(user.MemberID), data, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}
