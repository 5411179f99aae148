package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisIdempotencyStore implements IdempotencyStore for Redis
type RedisIdempotencyStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisIdempotencyStore creates a new Redis idempotency store
func NewRedisIdempotencyStore(host string, port int, password string, db int, logger *zap.Logger) (IdempotencyStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIdempotencyStore{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves the record id cached for an idempotency token
func (s *RedisIdempotencyStore) Get(ctx context.Context, token string) (string, error) {
	recordID, err := s.client.Get(ctx, s.buildKey(token)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	return recordID, nil
}

// Set caches the record id for an idempotency token with a TTL
func (s *RedisIdempotencyStore) Set(ctx context.Context, token, recordID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.buildKey(token), recordID, ttl).Err()
}

// Delete removes an idempotency token
func (s *RedisIdempotencyStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.buildKey(token)).Err()
}

// buildKey creates the Redis key for an idempotency token
func (s *RedisIdempotencyStore) buildKey(token string) string {
	return fmt.Sprintf("idempotency:%s", token)
}

// Ping checks the Redis connection
func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
