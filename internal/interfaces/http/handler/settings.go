package handler

import (
	"github.com/gin-gonic/gin"

	"pustakam-api/internal/application/settings"
	"pustakam-api/internal/interfaces/http/dto"
)

// SettingsHandler 用户设置
type SettingsHandler struct {
	settings *settings.Service
}

// NewSettingsHandler 创建设置处理器
func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{settings: svc}
}

// GetSettings 读取设置，密钥已脱敏
// @Router /v1/settings [get]
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	st, err := h.settings.GetRedacted(c.Request.Context())
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, st)
}

// UpdateSettings 更新设置
// @Router /v1/settings [put]
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.settings.Update(c.Request.Context(), settings.UpdateInput{
		SelectedProvider: req.SelectedProvider,
		SelectedModel:    req.SelectedModel,
		APIKeys:          req.APIKeys,
	})
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, st)
}

// ListProviders 支持的提供商与模型
// @Router /v1/settings/providers [get]
func (h *SettingsHandler) ListProviders(c *gin.Context) {
	dto.Success(c, h.settings.Providers())
}
