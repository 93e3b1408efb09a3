package handler

import (
	"github.com/gin-gonic/gin"

	"pustakam-api/internal/application/book"
	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	"pustakam-api/internal/interfaces/http/dto"
)

// BookHandler 书籍资源
type BookHandler struct {
	books *book.Service
}

// NewBookHandler 创建书籍处理器
func NewBookHandler(books *book.Service) *BookHandler {
	return &BookHandler{books: books}
}

// CreateBook 创建书籍并同步规划路线图
// @Router /v1/books [post]
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req dto.CreateBookRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.books.CreateRoadmap(c.Request.Context(), book.CreateInput{
		Goal:        req.Goal,
		Provider:    req.Provider,
		Model:       req.Model,
		Language:    req.Language,
		Preferences: req.Preferences.ToEntity(),
	})
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Created(c, b)
}

// ListBooks 按更新时间倒序分页
// @Router /v1/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	page := dto.BindPage(c)
	result, err := h.books.List(c.Request.Context(), repository.NewPagination(page.Page, page.PageSize))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	items := make([]*dto.BookSummary, 0, len(result.Items))
	for _, b := range result.Items {
		items = append(items, dto.ToBookSummary(b))
	}
	dto.SuccessWithPage(c, items, dto.NewPageMeta(result.Page, result.PageSize, result.Total))
}

// GetBook 书籍详情（含模块正文）
// @Router /v1/books/{id} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	b, err := h.books.Get(c.Request.Context(), dto.BindBookID(c))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, b)
}

// DeleteBook 删除书籍，进行中的运行会先被取消
// @Router /v1/books/{id} [delete]
func (h *BookHandler) DeleteBook(c *gin.Context) {
	if err := h.books.Delete(c.Request.Context(), dto.BindBookID(c)); err != nil {
		dto.FromError(c, err)
		return
	}
	dto.NoContent(c)
}

// AssembleBook 组装成书
// @Router /v1/books/{id}/assemble [post]
func (h *BookHandler) AssembleBook(c *gin.Context) {
	b, err := h.books.Assemble(c.Request.Context(), dto.BindBookID(c))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, b)
}

// UpdateContent 替换成书文本
// @Router /v1/books/{id}/content [put]
func (h *BookHandler) UpdateContent(c *gin.Context) {
	var req dto.UpdateContentRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.books.UpdateContent(c.Request.Context(), dto.BindBookID(c), req.FinalBook)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, b)
}

// UpdateStatus 手动修改书状态
// @Router /v1/books/{id}/status [put]
func (h *BookHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.books.UpdateStatus(c.Request.Context(), dto.BindBookID(c), entity.BookStatus(req.Status))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, b)
}

// ExportBook 上传成书并返回预签名下载地址
// @Router /v1/books/{id}/export [post]
func (h *BookHandler) ExportBook(c *gin.Context) {
	res, err := h.books.Export(c.Request.Context(), dto.BindBookID(c))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, res)
}

// ClearAllData 删除全部书籍与设置
// @Router /v1/data [delete]
func (h *BookHandler) ClearAllData(c *gin.Context) {
	if err := h.books.ClearAllData(c.Request.Context()); err != nil {
		dto.FromError(c, err)
		return
	}
	dto.NoContent(c)
}
