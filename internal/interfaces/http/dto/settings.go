package dto

// UpdateSettingsRequest 更新设置；api_keys 中空串表示删除该提供商的密钥
type UpdateSettingsRequest struct {
	SelectedProvider string            `json:"selected_provider,omitempty" binding:"max=32"`
	SelectedModel    string            `json:"selected_model,omitempty" binding:"max=64"`
	APIKeys          map[string]string `json:"api_keys,omitempty"`
}
