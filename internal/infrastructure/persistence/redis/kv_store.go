package redis

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pustakam-api/internal/domain/repository"
	"pustakam-api/pkg/metrics"
)

// KVStore 以 Redis 字符串实现的持久化键值存储（需开启 AOF/RDB）
type KVStore struct {
	client *Client
	prefix string
}

// NewKVStore 创建键值存储，prefix 会加在所有键前
func NewKVStore(client *Client, prefix string) *KVStore {
	return &KVStore{client: client, prefix: prefix}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "redis.KVStore.Get",
		trace.WithAttributes(attribute.String("kv.key", key)))
	defer span.End()

	val, err := s.client.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if IsNil(err) {
			return nil, repository.ErrKeyNotFound
		}
		span.RecordError(err)
		metrics.StorageOpsTotal.WithLabelValues("redis", "get", "error").Inc()
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("redis", "get", "success").Inc()
	return val, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := tracer.Start(ctx, "redis.KVStore.Set",
		trace.WithAttributes(attribute.String("kv.key", key), attribute.Int("kv.size", len(value))))
	defer span.End()

	if err := s.client.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		span.RecordError(err)
		metrics.StorageOpsTotal.WithLabelValues("redis", "set", "error").Inc()
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("redis", "set", "success").Inc()
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "redis.KVStore.Delete",
		trace.WithAttributes(attribute.String("kv.key", key)))
	defer span.End()

	if err := s.client.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		span.RecordError(err)
		metrics.StorageOpsTotal.WithLabelValues("redis", "delete", "error").Inc()
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("redis", "delete", "success").Inc()
	return nil
}

// Keys 通过 SCAN 列出前缀下的键
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "redis.KVStore.Keys",
		trace.WithAttributes(attribute.String("kv.prefix", prefix)))
	defer span.End()

	iter := s.client.rdb.Scan(ctx, 0, escapeGlob(s.prefix+prefix)+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// escapeGlob 转义 SCAN MATCH 的通配字符
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
