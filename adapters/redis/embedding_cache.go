package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gokpi:embedding:"

// Config holds the cache connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// EmbeddingCache stores embedding vectors in Redis. It implements
// ports.EmbeddingCache.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEmbeddingCache connects to Redis and pings it
func NewEmbeddingCache(ctx context.Context, cfg Config) (*EmbeddingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl}, nil
}

// Key derives the Redis key of a model and text pair. Texts are compared
// trimmed and lowercased.
func Key(key string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(key))))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// GetEmbedding returns the cached vector; a miss is not an error
func (c *EmbeddingCache) GetEmbedding(ctx context.Context, key string) ([]float64, bool, error) {
	data, err := c.client.Get(ctx, Key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding from redis: %w", err)
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return vec, true, nil
}

// SetEmbedding stores a vector with the configured TTL
func (c *EmbeddingCache) SetEmbedding(ctx context.Context, key string, vector []float64) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := c.client.Set(ctx, Key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save embedding to redis: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (c *EmbeddingCache) Close() error {
	return c.client.Close()
}
