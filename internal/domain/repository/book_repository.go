package repository

import (
	"context"

	"pustakam-api/internal/domain/entity"
)

// BookRepository 书籍仓储接口
// Save 为整条记录覆盖写；同一本书的读改写顺序由调用方保证
type BookRepository interface {
	// Load 加载书籍，不存在时返回 nil, nil
	Load(ctx context.Context, id string) (*entity.BookProject, error)

	// Save 保存整条书籍记录
	Save(ctx context.Context, book *entity.BookProject) error

	// Delete 删除书籍
	Delete(ctx context.Context, id string) error

	// List 按更新时间倒序分页列出书籍
	List(ctx context.Context, pagination Pagination) (*PagedResult[*entity.BookProject], error)

	// DeleteAll 删除全部书籍
	DeleteAll(ctx context.Context) error
}
