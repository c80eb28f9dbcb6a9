package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisConfig describes a Redis pub/sub connection.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisPublisher publishes JSON encoded events on channel "<prefix>:<kind>".
type RedisPublisher struct {
	client RedisClient
	prefix string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client RedisClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "talos:events"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisPublisher, *redis.Client, error) {
	if cfg.Address == "" {
		return nil, nil, fmt.Errorf("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisPublisher(client, cfg.Prefix), client, nil
}

// Channel returns the channel used for kind.
func (p *RedisPublisher) Channel(kind Kind) string {
	return p.prefix + ":" + string(kind)
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(e.Kind), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.Channel(e.Kind), err)
	}
	return nil
}
