package entity

import "strings"

// ModelProvider 模型提供商
type ModelProvider string

const (
	ProviderGoogle  ModelProvider = "google"
	ProviderMistral ModelProvider = "mistral"
	ProviderZhipu   ModelProvider = "zhipu"
	ProviderGroq    ModelProvider = "groq"
)

// 默认提供商与模型
const (
	DefaultProvider = ProviderGoogle
	DefaultModel    = "gemini-2.5-flash"
)

// ModelInfo 模型目录条目
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderInfo 提供商目录条目
type ProviderInfo struct {
	ID     ModelProvider `json:"id"`
	Name   string        `json:"name"`
	Models []ModelInfo   `json:"models"`
}

// providerCatalog 支持的提供商及模型，首个模型为该提供商的回退模型
var providerCatalog = []ProviderInfo{
	{ID: ProviderGoogle, Name: "Google AI", Models: []ModelInfo{
		{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite"},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
		{ID: "gemma-3-27b-it", Name: "Gemma 3 27B"},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
	}},
	{ID: ProviderMistral, Name: "Mistral AI", Models: []ModelInfo{
		{ID: "mistral-small-latest", Name: "Mistral Small"},
		{ID: "mistral-medium-latest", Name: "Mistral Medium"},
		{ID: "mistral-large-latest", Name: "Mistral Large"},
	}},
	{ID: ProviderZhipu, Name: "ZhipuAI", Models: []ModelInfo{
		{ID: "glm-4.5-flash", Name: "GLM 4.5 Flash"},
	}},
	{ID: ProviderGroq, Name: "Groq", Models: []ModelInfo{
		{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B"},
		{ID: "openai/gpt-oss-120b", Name: "GPT-OSS 120B"},
		{ID: "openai/gpt-oss-20b", Name: "GPT-OSS 20B"},
		{ID: "moonshotai/kimi-k2-instruct-0905", Name: "Kimi K2 Instruct"},
	}},
}

// Providers 返回提供商目录副本
func Providers() []ProviderInfo {
	out := make([]ProviderInfo, len(providerCatalog))
	for i, p := range providerCatalog {
		out[i] = p
		out[i].Models = append([]ModelInfo(nil), p.Models...)
	}
	return out
}

// LookupProvider 查找提供商
func LookupProvider(id string) (ProviderInfo, bool) {
	for _, p := range providerCatalog {
		if string(p.ID) == strings.ToLower(strings.TrimSpace(id)) {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// HasModel 判断提供商是否提供该模型
func (p ProviderInfo) HasModel(model string) bool {
	for _, m := range p.Models {
		if m.ID == model {
			return true
		}
	}
	return false
}

// Settings 用户设置
type Settings struct {
	SelectedProvider ModelProvider `json:"selected_provider"`
	SelectedModel    string        `json:"selected_model"`
	// APIKeys 按提供商覆盖配置文件中的密钥
	APIKeys map[ModelProvider]string `json:"api_keys,omitempty"`
}

// DefaultSettings 默认设置
func DefaultSettings() *Settings {
	return &Settings{
		SelectedProvider: DefaultProvider,
		SelectedModel:    DefaultModel,
		APIKeys:          map[ModelProvider]string{},
	}
}

// SettingsCorrection 规范化时发生的修正
type SettingsCorrection struct {
	Field string
	From  string
	To    string
}

// Normalize 修正非法的提供商/模型组合并返回修正列表
// 未知提供商回退到默认提供商与模型；已知提供商的未知模型回退到该提供商的第一个模型
func (s *Settings) Normalize() []SettingsCorrection {
	var fixes []SettingsCorrection
	if s.APIKeys == nil {
		s.APIKeys = map[ModelProvider]string{}
	}

	p, ok := LookupProvider(string(s.SelectedProvider))
	if !ok {
		fixes = append(fixes,
			SettingsCorrection{Field: "selected_provider", From: string(s.SelectedProvider), To: string(DefaultProvider)},
			SettingsCorrection{Field: "selected_model", From: s.SelectedModel, To: DefaultModel},
		)
		s.SelectedProvider = DefaultProvider
		s.SelectedModel = DefaultModel
		return fixes
	}
	s.SelectedProvider = p.ID
	if !p.HasModel(s.SelectedModel) {
		to := p.Models[0].ID
		fixes = append(fixes, SettingsCorrection{Field: "selected_model", From: s.SelectedModel, To: to})
		s.SelectedModel = to
	}
	return fixes
}

// APIKeyFor 返回提供商的用户密钥
func (s *Settings) APIKeyFor(p ModelProvider) string {
	if s == nil || s.APIKeys == nil {
		return ""
	}
	return strings.TrimSpace(s.APIKeys[p])
}

// Redacted 返回隐藏密钥的副本，仅保留末四位
func (s *Settings) Redacted() *Settings {
	cp := *s
	cp.APIKeys = make(map[ModelProvider]string, len(s.APIKeys))
	for k, v := range s.APIKeys {
		if len(v) > 4 {
			cp.APIKeys[k] = strings.Repeat("*", 8) + v[len(v)-4:]
		} else if v != "" {
			cp.APIKeys[k] = strings.Repeat("*", 8)
		}
	}
	return &cp
}
