package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// RedisPubSub is the Redis Pub/Sub driver. Channel names are used as-is.
type RedisPubSub struct {
	client *redis.Client

	mu     sync.Mutex
	active []*redis.PubSub
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{client: client}, nil
}

// Publish sends event to channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// SubscribePattern subscribes with PSUBSCRIBE. It returns once Redis has
// confirmed the subscription, so nothing published afterwards is missed.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	ps := r.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	r.mu.Lock()
	r.active = append(r.active, ps)
	r.mu.Unlock()

	out := make(chan *Event, eventBuffer)
	go r.pump(ctx, ps, out)
	return out, nil
}

// Close ends every subscription and the client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	for _, ps := range r.active {
		ps.Close()
	}
	r.active = nil
	r.mu.Unlock()

	return r.client.Close()
}

func (r *RedisPubSub) pump(ctx context.Context, ps *redis.PubSub, out chan<- *Event) {
	defer close(out)
	defer r.release(ps)
	l := log.L()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("redis pubsub: dropping malformed event")
				continue
			}
			if !forward(ctx, out, &event, msg.Channel) {
				return
			}
		}
	}
}

func (r *RedisPubSub) release(ps *redis.PubSub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.active {
		if p == ps {
			r.active = append(r.active[:i], r.active[i+1:]...)
			ps.Close()
			return
		}
	}
}
