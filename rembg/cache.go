package rembg

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "cutout:rembg:"

// Cache 按图片内容缓存抠图结果
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, res *Result) error
}

// CacheKey 图片字节的 md5
func CacheKey(data []byte) string {
	sum := md5.Sum(data)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// CachedSegmenter 给 Segmenter 加一层结果缓存；缓存读写失败只记日志
type CachedSegmenter struct {
	next   Segmenter
	cache  Cache
	logger *zap.Logger
}

func NewCachedSegmenter(next Segmenter, cache Cache, logger *zap.Logger) *CachedSegmenter {
	return &CachedSegmenter{next: next, cache: cache, logger: logger.Named("rembg_cache")}
}

func (c *CachedSegmenter) Initialize(ctx context.Context) error {
	return c.next.Initialize(ctx)
}

func (c *CachedSegmenter) Segment(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	key := CacheKey(data)

	res, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		c.logger.Debug("cache hit", zap.String("key", key))
		return res, nil
	}

	res, err = c.next.Segment(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, res); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return res, nil
}

// Close 透传给下层
func (c *CachedSegmenter) Close() error {
	if closer, ok := c.next.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

type memoryEntry struct {
	res      *Result
	expireAt time.Time
}

// MemoryCache 进程内缓存，ttl <= 0 表示不过期
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expireAt.IsZero() && m.now().After(e.expireAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.res, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, res *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{res: res}
	if m.ttl > 0 {
		e.expireAt = m.now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}

// Len 当前条目数（含已过期未清理的）
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisCache 结果以 JSON 存入 redis
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	res := &Result{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return res, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return r.client.Set(ctx, key, data, r.ttl).Err()
}
