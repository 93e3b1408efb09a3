package repository

import (
	"context"
	"errors"
)

// ErrKeyNotFound 键不存在
var ErrKeyNotFound = errors.New("key not found")

// KVStore 持久化键值存储
// 仅保证单键原子覆盖写，不提供跨键事务
type KVStore interface {
	// Get 读取键值，不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 覆盖写入
	Set(ctx context.Context, key string, value []byte) error

	// Delete 删除键，键不存在不视为错误
	Delete(ctx context.Context, key string) error

	// Keys 列出指定前缀的全部键（按字典序）
	Keys(ctx context.Context, prefix string) ([]string, error)
}
