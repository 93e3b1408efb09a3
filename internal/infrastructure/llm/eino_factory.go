// Package llm 基于 Eino 的模型提供商接入
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pustakam-api/internal/config"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// CredentialSource 提供用户保存的提供商密钥，返回空串表示沿用配置文件
type CredentialSource interface {
	APIKey(ctx context.Context, provider string) (string, error)
}

// EinoFactory 按 provider/model 惰性创建并缓存 Eino ChatModel
type EinoFactory struct {
	config      *config.LLMConfig
	credentials CredentialSource
	models      map[string]model.BaseChatModel
	mu          sync.RWMutex
}

// NewEinoFactory 创建 Eino LLM 工厂
func NewEinoFactory(cfg *config.Config, credentials CredentialSource) *EinoFactory {
	return &EinoFactory{
		config:      &cfg.LLM,
		credentials: credentials,
		models:      make(map[string]model.BaseChatModel),
	}
}

// Resolve 补全空的 provider/model 为默认值
func (f *EinoFactory) Resolve(provider, modelName string) (string, string) {
	provider = strings.TrimSpace(provider)
	modelName = strings.TrimSpace(modelName)
	if provider == "" {
		provider = f.config.DefaultProvider
		if modelName == "" {
			modelName = f.config.DefaultModel
		}
	}
	if modelName == "" {
		if pc, ok := f.config.Providers[provider]; ok {
			modelName = pc.Model
		}
	}
	return provider, modelName
}

// Get 获取 ChatModel，同一 provider/model 复用同一实例
func (f *EinoFactory) Get(ctx context.Context, provider, modelName string) (model.BaseChatModel, error) {
	provider, modelName = f.Resolve(provider, modelName)
	key := provider + "|" + modelName

	f.mu.RLock()
	m, ok := f.models[key]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	providerCfg, ok := f.config.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", provider)
	}
	apiKey := providerCfg.APIKey
	if f.credentials != nil {
		userKey, err := f.credentials.APIKey(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("failed to load api key for %s: %w", provider, err)
		}
		if userKey != "" {
			apiKey = userKey
		}
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("no api key configured for provider %s", provider)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok = f.models[key]; ok {
		return m, nil
	}

	// 四家提供商均暴露 OpenAI 兼容接口
	mc := &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: providerCfg.BaseURL,
		Model:   modelName,
		Timeout: providerCfg.Timeout,
	}
	if providerCfg.MaxTokens > 0 {
		mc.MaxTokens = ptrInt(providerCfg.MaxTokens)
	}
	if providerCfg.Temperature > 0 {
		mc.Temperature = ptrFloat32(float32(providerCfg.Temperature))
	}
	chatModel, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", key, err)
	}

	f.models[key] = chatModel
	return chatModel, nil
}

// Reset 清空缓存，密钥变更后调用
func (f *EinoFactory) Reset() {
	f.mu.Lock()
	f.models = make(map[string]model.BaseChatModel)
	f.mu.Unlock()
}

func ptrFloat32(f float32) *float32 {
	return &f
}

func ptrInt(i int) *int {
	return &i
}
