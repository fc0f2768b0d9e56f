// Package session tracks revoked access tokens and throttles credential endpoints.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records logged-out token ids until the token would have expired anyway.
type Denylist interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Limiter counts attempts per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// RedisStore implements Denylist and Limiter using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "qahub:",
	}
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

func (s *RedisStore) rateKey(key string) string {
	return s.prefix + "rate:" + key
}

// RevokeToken marks jti as revoked. Tokens already past expiry need no entry.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, s.revokedKey(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return true, nil
}

// Allow increments the counter for key; the first hit in a window starts its expiry.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	k := s.rateKey(key)
	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate incr: %w", err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate expire: %w", err)
		}
	}
	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate ttl: %w", err)
	}
	if ttl < 0 {
		// Counter lost its expiry; restart the window.
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate expire: %w", err)
		}
		ttl = window
	}
	return count <= int64(limit), ttl, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
