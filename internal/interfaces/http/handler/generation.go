package handler

import (
	"github.com/gin-gonic/gin"

	"pustakam-api/internal/application/book"
	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/interfaces/http/dto"
)

// GenerationHandler 生成运行控制
type GenerationHandler struct {
	books *book.Service
}

// NewGenerationHandler 创建运行控制处理器
func NewGenerationHandler(books *book.Service) *GenerationHandler {
	return &GenerationHandler{books: books}
}

func accepted(c *gin.Context, command string) {
	dto.Accepted(c, dto.RunAccepted{BookID: dto.BindBookID(c), Command: command})
}

// Generate 生成全部未完成模块
// @Router /v1/books/{id}/generate [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	var req dto.RunRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := h.books.Start(c.Request.Context(), dto.BindBookID(c), req.ToStartOptions()); err != nil {
		dto.FromError(c, err)
		return
	}
	accepted(c, "generate")
}

// Resume 恢复暂停的运行
// @Router /v1/books/{id}/resume [post]
func (h *GenerationHandler) Resume(c *gin.Context) {
	var req dto.RunRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := h.books.Resume(c.Request.Context(), dto.BindBookID(c), req.ToStartOptions()); err != nil {
		dto.FromError(c, err)
		return
	}
	accepted(c, "resume")
}

// RetryFailed 重新生成失败的模块
// @Router /v1/books/{id}/retry-failed [post]
func (h *GenerationHandler) RetryFailed(c *gin.Context) {
	var req dto.RunRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := h.books.RetryFailedModules(c.Request.Context(), dto.BindBookID(c), req.ToStartOptions()); err != nil {
		dto.FromError(c, err)
		return
	}
	accepted(c, "retry_failed")
}

// Pause 在当前模块结束后暂停
// @Router /v1/books/{id}/pause [post]
func (h *GenerationHandler) Pause(c *gin.Context) {
	if err := h.books.Pause(c.Request.Context(), dto.BindBookID(c)); err != nil {
		dto.FromError(c, err)
		return
	}
	accepted(c, "pause")
}

// Cancel 取消运行，已完成模块保留
// @Router /v1/books/{id}/cancel [post]
func (h *GenerationHandler) Cancel(c *gin.Context) {
	if err := h.books.Cancel(c.Request.Context(), dto.BindBookID(c)); err != nil {
		dto.FromError(c, err)
		return
	}
	accepted(c, "cancel")
}

// RetryDecision 对等待中的失败模块做出决定
// @Router /v1/books/{id}/retry-decision [post]
func (h *GenerationHandler) RetryDecision(c *gin.Context) {
	var req dto.RetryDecisionRequest
	if !bindJSON(c, &req) {
		return
	}
	d := orchestrator.RetryDecision{
		Decision: orchestrator.Decision(req.Decision),
		Provider: req.Provider,
		Model:    req.Model,
	}
	if err := h.books.SubmitRetryDecision(c.Request.Context(), dto.BindBookID(c), d); err != nil {
		dto.FromError(c, err)
		return
	}
	accepted(c, "retry_decision")
}

// Status 当前运行快照
// @Router /v1/books/{id}/status [get]
func (h *GenerationHandler) Status(c *gin.Context) {
	ev, err := h.books.Status(c.Request.Context(), dto.BindBookID(c))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, ev)
}
