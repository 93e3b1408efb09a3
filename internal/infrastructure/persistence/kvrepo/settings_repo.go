package kvrepo

import (
	"context"
	"encoding/json"
	"errors"

	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// SettingsRepository 设置仓储
type SettingsRepository struct {
	store repository.KVStore
}

// NewSettingsRepository 创建设置仓储
func NewSettingsRepository(store repository.KVStore) *SettingsRepository {
	return &SettingsRepository{store: store}
}

// Get 读取设置；未保存或无法解析时返回默认设置，非法的提供商/模型会被修正
func (r *SettingsRepository) Get(ctx context.Context) (*entity.Settings, error) {
	data, err := r.store.Get(ctx, SettingsKey)
	if err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			return entity.DefaultSettings(), nil
		}
		return nil, apperrors.ErrStorage.WithError(err).WithDetail("load settings")
	}

	var s entity.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Warn(ctx, "settings record is unreadable, using defaults", "error", err)
		return entity.DefaultSettings(), nil
	}
	for _, fix := range s.Normalize() {
		logger.Warn(ctx, "corrected invalid setting", "field", fix.Field, "from", fix.From, "to", fix.To)
	}
	return &s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings *entity.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return apperrors.ErrStorage.WithError(err).WithDetail("encode settings")
	}
	if err := r.store.Set(ctx, SettingsKey, data); err != nil {
		return apperrors.ErrStorage.WithError(err).WithDetail("save settings")
	}
	return nil
}

func (r *SettingsRepository) Clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, SettingsKey); err != nil {
		return apperrors.ErrStorage.WithError(err).WithDetail("clear settings")
	}
	return nil
}
