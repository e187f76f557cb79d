package rembg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(ctx context.Context, key string, res *Result) error {
	return errors.New("cache down")
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cutout:rembg:900150983cd24fb0d6963f7d28e17f72", CacheKey([]byte("abc")))
	assert.NotEqual(t, CacheKey([]byte("a")), CacheKey([]byte("b")))
}

func TestCachedSegmenterHitsCache(t *testing.T) {
	t.Parallel()

	stub := &stubSegmenter{response: &Result{Mask: []byte{1}, Composited: []byte{2}}}
	seg := NewCachedSegmenter(stub, NewMemoryCache(time.Minute), zap.NewNop())
	require.NoError(t, seg.Initialize(context.Background()))

	for i := 0; i < 3; i++ {
		res, err := seg.Segment(context.Background(), []byte("same image"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, stub.response, res)
	}
	assert.EqualValues(t, 1, stub.segN.Load())

	_, err := seg.Segment(context.Background(), []byte("other image"), "image/png")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stub.segN.Load())
}

func TestCachedSegmenterDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	stub := &stubSegmenter{segErr: errors.New("boom")}
	cache := NewMemoryCache(0)
	seg := NewCachedSegmenter(stub, cache, zap.NewNop())

	_, err := seg.Segment(context.Background(), []byte("img"), "image/png")
	assert.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestCachedSegmenterToleratesCacheFailure(t *testing.T) {
	t.Parallel()

	stub := &stubSegmenter{response: &Result{Mask: []byte{1}, Composited: []byte{2}}}
	seg := NewCachedSegmenter(stub, failingCache{}, zap.NewNop())

	res, err := seg.Segment(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, stub.response, res)
}

func TestMemoryCacheExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Minute)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", &Result{Mask: []byte{1}}))

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestRedisCacheUnavailable(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() {
		_ = client.Close()
	}()

	cache := NewRedisCache(client, time.Minute)
	_, ok, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, cache.Set(context.Background(), "k", &Result{}))
}
