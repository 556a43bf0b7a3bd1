package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
)

// Store records per-instance session counts so presence can be decided and
// queried across instances.
type Store interface {
	// SetSessions records this instance's session count for the user.
	SetSessions(ctx context.Context, userID uint64, sessions int) error
	// Sessions sums the counts of every live instance.
	Sessions(ctx context.Context, userID uint64) (int, error)
	// RemoteSessions sums the counts of every live instance except this one.
	RemoteSessions(ctx context.Context, userID uint64) (int, error)
	// Refresh extends this instance's entries for the given users.
	Refresh(ctx context.Context, userIDs []uint64) error
}

// RedisStore implements Store using Redis. Each instance owns one key per
// user with its own TTL, so counts of a crashed instance age out even while
// other instances keep the user alive.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	instanceID string
	ttl        time.Duration
}

// NewRedisStore creates a store on an existing client. ttl bounds how long
// entries of a crashed instance survive.
func NewRedisStore(client *redis.Client, prefix, instanceID string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "delivery:presence"
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		instanceID: instanceID,
		ttl:        ttl,
	}
}

// Redis key patterns:
// {prefix}:user:{user_id}:instances          SET<instance_id>  - instances that reported the user
// {prefix}:user:{user_id}:inst:{instance_id} STRING<count>      - live sessions on one instance, TTL

func (s *RedisStore) indexKey(userID uint64) string {
	return fmt.Sprintf("%s:user:%s:instances", s.prefix, domain.FormatID(userID))
}

func (s *RedisStore) countKey(userID uint64, instanceID string) string {
	return fmt.Sprintf("%s:user:%s:inst:%s", s.prefix, domain.FormatID(userID), instanceID)
}

func (s *RedisStore) SetSessions(ctx context.Context, userID uint64, sessions int) error {
	index := s.indexKey(userID)
	key := s.countKey(userID, s.instanceID)

	pipe := s.client.TxPipeline()
	if sessions > 0 {
		pipe.Set(ctx, key, sessions, s.ttl)
		pipe.SAdd(ctx, index, s.instanceID)
		if s.ttl > 0 {
			pipe.Expire(ctx, index, s.ttl)
		}
	} else {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, index, s.instanceID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Sessions(ctx context.Context, userID uint64) (int, error) {
	counts, err := s.counts(ctx, userID)
	if err != nil {
		return 0, err
	}
	return lo.Sum(lo.Values(counts)), nil
}

func (s *RedisStore) RemoteSessions(ctx context.Context, userID uint64) (int, error) {
	counts, err := s.counts(ctx, userID)
	if err != nil {
		return 0, err
	}
	delete(counts, s.instanceID)
	return lo.Sum(lo.Values(counts)), nil
}

// counts returns the live count of every instance that reported the user.
// Instances whose key expired are pruned from the index.
func (s *RedisStore) counts(ctx context.Context, userID uint64) (map[string]int, error) {
	index := s.indexKey(userID)
	instances, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return map[string]int{}, nil
	}

	keys := lo.Map(instances, func(id string, _ int) string { return s.countKey(userID, id) })
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(instances))
	var expired []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, instances[i])
			continue
		}
		n, err := strconv.Atoi(str)
		if err != nil || n <= 0 {
			continue
		}
		counts[instances[i]] = n
	}
	if len(expired) > 0 {
		s.client.SRem(ctx, index, expired...)
	}
	return counts, nil
}

func (s *RedisStore) Refresh(ctx context.Context, userIDs []uint64) error {
	if len(userIDs) == 0 || s.ttl <= 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, id := range userIDs {
		pipe.Expire(ctx, s.countKey(id, s.instanceID), s.ttl)
		pipe.Expire(ctx, s.indexKey(id), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
