package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// ErrLockNotHeld 锁已过期或被他人持有
var ErrLockNotHeld = errors.New("lock not held")

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock 基于 SET NX PX 的租约锁，保证同一本书同时只有一个进程在生成
type RunLock struct {
	client *Client
	prefix string
}

// NewRunLock 创建运行锁
func NewRunLock(client *Client, prefix string) *RunLock {
	return &RunLock{client: client, prefix: prefix}
}

// Acquire 尝试获取锁，返回持有凭证
func (l *RunLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.RunLock.Acquire")
	span.SetAttributes(attribute.String("lock.key", key))
	defer span.End()

	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return "", false, err
	}
	span.SetAttributes(attribute.Bool("lock.acquired", ok))
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Refresh 续约
func (l *RunLock) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.prefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release 释放锁，只删除自己持有的锁
func (l *RunLock) Release(ctx context.Context, key, token string) error {
	ctx, span := tracer.Start(ctx, "redis.RunLock.Release")
	span.SetAttributes(attribute.String("lock.key", key))
	defer span.End()

	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.prefix + key}, token).Int()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
