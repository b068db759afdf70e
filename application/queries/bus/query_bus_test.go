package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotQuery struct {
	Key string
}

func (q snapshotQuery) Validate() error   { return nil }
func (q snapshotQuery) CacheKey() string { return q.Key }

type currentQuery struct{}

func (q currentQuery) Validate() error { return nil }

type mapCache struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func (c *mapCache) Get(_ context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func countingHandler(calls *int) QueryHandler {
	return QueryHandlerFunc(func(context.Context, Query) (interface{}, error) {
		*calls++
		return *calls, nil
	})
}

func TestCachingMiddleware_CachesCacheableQueries(t *testing.T) {
	cache := &mapCache{data: map[string]interface{}{}}
	b := NewQueryBus(NewCachingMiddleware(cache, 60))

	calls := 0
	require.NoError(t, b.Register(snapshotQuery{}, countingHandler(&calls)))

	first, err := b.Ask(context.Background(), snapshotQuery{Key: "g1@1"})
	require.NoError(t, err)
	second, err := b.Ask(context.Background(), snapshotQuery{Key: "g1@1"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Contains(t, cache.data, "snapshotQuery:g1@1")
}

func TestCachingMiddleware_SkipsOtherQueries(t *testing.T) {
	cache := &mapCache{data: map[string]interface{}{}}
	b := NewQueryBus(NewCachingMiddleware(cache, 60))

	calls := 0
	require.NoError(t, b.Register(currentQuery{}, countingHandler(&calls)))

	_, err := b.Ask(context.Background(), currentQuery{})
	require.NoError(t, err)
	_, err = b.Ask(context.Background(), currentQuery{})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Empty(t, cache.data)
}

func TestAsk_NoHandler(t *testing.T) {
	_, err := NewQueryBus().Ask(context.Background(), currentQuery{})
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}
