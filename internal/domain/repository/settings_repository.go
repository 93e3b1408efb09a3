package repository

import (
	"context"

	"pustakam-api/internal/domain/entity"
)

// SettingsRepository 用户设置仓储接口
type SettingsRepository interface {
	// Get 读取设置，未保存过时返回默认设置
	Get(ctx context.Context) (*entity.Settings, error)

	// Save 保存设置
	Save(ctx context.Context, settings *entity.Settings) error

	// Clear 清除设置
	Clear(ctx context.Context) error
}
