package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared by every instance through Redis. Keys expire with the token.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	nowF   func() time.Time
}

// NewRedisStore returns a RedisStore writing keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, nowF: time.Now}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("blacklist: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("blacklist: ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) key(jti string) string {
	return fmt.Sprintf("%s:blacklist:%s", r.prefix, jti)
}

func (r *RedisStore) Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(r.nowF())
	if ttl <= 0 {
		return false, nil
	}
	added, err := r.client.SetNX(ctx, r.key(jti), expiresAt.Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist: add: %w", err)
	}
	return added, nil
}

func (r *RedisStore) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist: lookup: %w", err)
	}
	return n > 0, nil
}
