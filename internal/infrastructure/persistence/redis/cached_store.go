package redis

import (
	"context"
	"time"

	"pustakam-api/internal/domain/repository"
	"pustakam-api/pkg/logger"
)

// CachedStore 在持久化存储前加一层 Redis 读缓存，写入时先落盘再刷新缓存
type CachedStore struct {
	durable repository.KVStore
	cache   *Cache
	ttl     time.Duration
}

// NewCachedStore 创建带缓存的存储
func NewCachedStore(durable repository.KVStore, cache *Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{durable: durable, cache: cache, ttl: ttl}
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.cache.GetOrLoad(ctx, key, s.ttl, func(ctx context.Context) ([]byte, error) {
		return s.durable.Get(ctx, key)
	})
}

func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.durable.Set(ctx, key, value); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		// 刷新失败时删除旧缓存，避免读到过期数据
		logger.Warn(ctx, "failed to refresh cache entry", "key", key, "error", err)
		_ = s.cache.Delete(ctx, key)
	}
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.durable.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		logger.Warn(ctx, "failed to evict cache entry", "key", key, "error", err)
	}
	return nil
}

func (s *CachedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.durable.Keys(ctx, prefix)
}
