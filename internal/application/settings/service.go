// Package settings 用户设置用例
package settings

import (
	"context"
	"strings"

	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// ModelCache 密钥或模型变更后需要失效的模型缓存
type ModelCache interface {
	Reset()
}

// UpdateInput 设置更新；APIKeys 中为空串的项表示删除，带掩码的项表示保持不变
type UpdateInput struct {
	SelectedProvider string
	SelectedModel    string
	APIKeys          map[string]string
}

// Service 设置服务
type Service struct {
	repo   repository.SettingsRepository
	models ModelCache
}

// NewService 创建设置服务，models 可为空
func NewService(repo repository.SettingsRepository, models ModelCache) *Service {
	return &Service{repo: repo, models: models}
}

// Get 读取设置（含明文密钥，仅供内部使用）
func (s *Service) Get(ctx context.Context) (*entity.Settings, error) {
	return s.repo.Get(ctx)
}

// GetRedacted 读取对外展示的设置
func (s *Service) GetRedacted(ctx context.Context) (*entity.Settings, error) {
	st, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	return st.Redacted(), nil
}

// Update 合并并保存设置，非法的提供商/模型组合会被修正
func (s *Service) Update(ctx context.Context, in UpdateInput) (*entity.Settings, error) {
	current, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := *current
	next.APIKeys = make(map[entity.ModelProvider]string, len(current.APIKeys))
	for k, v := range current.APIKeys {
		next.APIKeys[k] = v
	}

	if p := strings.TrimSpace(in.SelectedProvider); p != "" {
		next.SelectedProvider = entity.ModelProvider(p)
	}
	if m := strings.TrimSpace(in.SelectedModel); m != "" {
		next.SelectedModel = m
	}

	keysChanged := false
	for provider, key := range in.APIKeys {
		if _, ok := entity.LookupProvider(provider); !ok {
			return nil, apperrors.ErrInvalidParam.WithDetail("unknown provider " + provider)
		}
		key = strings.TrimSpace(key)
		p := entity.ModelProvider(provider)
		switch {
		case isMasked(key):
			continue
		case key == "":
			if _, ok := next.APIKeys[p]; ok {
				delete(next.APIKeys, p)
				keysChanged = true
			}
		case next.APIKeys[p] != key:
			next.APIKeys[p] = key
			keysChanged = true
		}
	}

	for _, fix := range next.Normalize() {
		logger.Warn(ctx, "settings corrected", "field", fix.Field, "from", fix.From, "to", fix.To)
	}

	if err := s.repo.Save(ctx, &next); err != nil {
		return nil, err
	}
	if keysChanged && s.models != nil {
		s.models.Reset()
	}
	logger.Info(ctx, "settings updated", "provider", next.SelectedProvider, "model", next.SelectedModel)
	return next.Redacted(), nil
}

// Clear 恢复默认设置
func (s *Service) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	if s.models != nil {
		s.models.Reset()
	}
	return nil
}

// Providers 支持的提供商与模型
func (s *Service) Providers() []entity.ProviderInfo {
	return entity.Providers()
}

// isMasked 客户端回传的脱敏密钥
func isMasked(key string) bool {
	return strings.HasPrefix(key, "********")
}
