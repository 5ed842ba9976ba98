package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, Key("model|Revenue"), Key("  model|revenue "))
	assert.NotEqual(t, Key("model|Revenue"), Key("model|Sales"))
	assert.True(t, strings.HasPrefix(Key("x"), keyPrefix))
}

// Runs against a live server when KPI_TEST_REDIS_ADDR is set.
func TestEmbeddingCache_Live(t *testing.T) {
	addr := os.Getenv("KPI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KPI_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	cache, err := NewEmbeddingCache(ctx, Config{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()

	key := "test|" + time.Now().Format(time.RFC3339Nano)
	_, ok, err := cache.GetEmbedding(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.SetEmbedding(ctx, key, []float64{0.25, -1}))
	vec, ok, err := cache.GetEmbedding(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{0.25, -1}, vec)
}
