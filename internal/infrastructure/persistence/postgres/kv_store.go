package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pustakam-api/internal/domain/repository"
	"pustakam-api/pkg/metrics"
)

// KVRecord 键值记录表
type KVRecord struct {
	Key       string         `gorm:"primaryKey;type:varchar(255)"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName 表名
func (KVRecord) TableName() string {
	return "kv_records"
}

// KVStore 以 jsonb 行实现的键值存储
type KVStore struct {
	client *Client
	now    func() time.Time
}

// NewKVStore 创建 PostgreSQL 键值存储
func NewKVStore(client *Client) *KVStore {
	return &KVStore{client: client, now: time.Now}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "postgres.KVStore.Get",
		trace.WithAttributes(attribute.String("kv.key", key)))
	defer span.End()

	var rec KVRecord
	err := s.client.db.WithContext(ctx).Where("key = ?", key).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrKeyNotFound
		}
		span.RecordError(err)
		metrics.StorageOpsTotal.WithLabelValues("postgres", "get", "error").Inc()
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("postgres", "get", "success").Inc()
	return []byte(rec.Value), nil
}

// Set 以 upsert 覆盖写入
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := tracer.Start(ctx, "postgres.KVStore.Set",
		trace.WithAttributes(attribute.String("kv.key", key), attribute.Int("kv.size", len(value))))
	defer span.End()

	rec := KVRecord{Key: key, Value: datatypes.JSON(value), UpdatedAt: s.now()}
	err := s.client.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		span.RecordError(err)
		metrics.StorageOpsTotal.WithLabelValues("postgres", "set", "error").Inc()
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("postgres", "set", "success").Inc()
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "postgres.KVStore.Delete",
		trace.WithAttributes(attribute.String("kv.key", key)))
	defer span.End()

	if err := s.client.db.WithContext(ctx).Where("key = ?", key).Delete(&KVRecord{}).Error; err != nil {
		span.RecordError(err)
		metrics.StorageOpsTotal.WithLabelValues("postgres", "delete", "error").Inc()
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	metrics.StorageOpsTotal.WithLabelValues("postgres", "delete", "success").Inc()
	return nil
}

func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.KVStore.Keys",
		trace.WithAttributes(attribute.String("kv.prefix", prefix)))
	defer span.End()

	var keys []string
	err := s.client.db.WithContext(ctx).Model(&KVRecord{}).
		Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("key ASC").
		Pluck("key", &keys).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// DeletePrefix 一条语句删除前缀下的全部键
func (s *KVStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.KVStore.DeletePrefix",
		trace.WithAttributes(attribute.String("kv.prefix", prefix)))
	defer span.End()

	res := s.client.db.WithContext(ctx).
		Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Delete(&KVRecord{})
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to delete prefix %s: %w", prefix, res.Error)
	}
	return res.RowsAffected, nil
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
