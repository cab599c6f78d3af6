package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetAndMiss(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	defer c.Close()
	ctx := context.Background()

	val, err := c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 3})
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte{byte(i)}, time.Minute))
	}
	// Touch k0 so k1 becomes least recently used.
	_, err := c.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k3", []byte{3}, time.Minute))
	assert.Equal(t, 3, c.Len())

	evicted, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, evicted, "least recently used entry must be evicted")

	kept, err := c.Get(ctx, "k0")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{CleanupInterval: 10 * time.Millisecond})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	val, err := c.Get(ctx, "short")
	require.NoError(t, err)
	require.NotNil(t, val)

	assert.Eventually(t, func() bool {
		v, _ := c.Get(ctx, "short")
		return v == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_ReturnedValueIsACopy(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("abc"), time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	val[0] = 'X'

	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
