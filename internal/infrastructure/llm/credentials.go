package llm

import (
	"context"

	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
)

// SettingsCredentials 从用户设置读取提供商密钥
type SettingsCredentials struct {
	repo repository.SettingsRepository
}

// NewSettingsCredentials 创建密钥来源
func NewSettingsCredentials(repo repository.SettingsRepository) *SettingsCredentials {
	return &SettingsCredentials{repo: repo}
}

func (c *SettingsCredentials) APIKey(ctx context.Context, provider string) (string, error) {
	st, err := c.repo.Get(ctx)
	if err != nil {
		return "", err
	}
	return st.APIKeyFor(entity.ModelProvider(provider)), nil
}
