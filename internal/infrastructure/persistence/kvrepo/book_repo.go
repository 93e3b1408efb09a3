// Package kvrepo 在 KVStore 之上实现书籍与设置仓储
package kvrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// 存储键
const (
	BookKeyPrefix = "pustakam-books:"
	SettingsKey   = "pustakam-settings"
)

var tracer = otel.Tracer("kvrepo")

// prefixDeleter 支持按前缀批量删除的存储
type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// BookRepository 以 JSON 文档保存书籍
type BookRepository struct {
	store repository.KVStore
	now   func() time.Time
}

// NewBookRepository 创建书籍仓储
func NewBookRepository(store repository.KVStore) *BookRepository {
	return &BookRepository{store: store, now: time.Now}
}

func bookKey(id string) string {
	return BookKeyPrefix + id
}

// Load 加载书籍，不存在时返回 nil, nil
func (r *BookRepository) Load(ctx context.Context, id string) (*entity.BookProject, error) {
	ctx, span := tracer.Start(ctx, "kvrepo.BookRepository.Load",
		trace.WithAttributes(attribute.String("book.id", id)))
	defer span.End()

	data, err := r.store.Get(ctx, bookKey(id))
	if err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperrors.ErrStorage.WithError(err).WithDetail("load book " + id)
	}
	return r.decode(ctx, id, data)
}

func (r *BookRepository) decode(ctx context.Context, id string, data []byte) (*entity.BookProject, error) {
	var book entity.BookProject
	if err := json.Unmarshal(data, &book); err != nil {
		logger.Error(ctx, "book record is corrupted", err, "book_id", id)
		return nil, apperrors.ErrStateCorrupted.WithError(err).WithDetail("book " + id)
	}
	for _, fix := range r.repair(id, &book) {
		logger.Warn(ctx, "applied default to persisted book", "book_id", id, "field", fix)
	}
	return &book, nil
}

// repair 修补可恢复的缺省字段并返回修补过的字段名
func (r *BookRepository) repair(id string, b *entity.BookProject) []string {
	var fixes []string
	if b.ID != id {
		b.ID = id
		fixes = append(fixes, "id")
	}
	if !b.Status.IsValid() {
		if b.HasRoadmap() {
			b.Status = entity.BookStatusRoadmapCompleted
		} else {
			b.Status = entity.BookStatusPlanning
		}
		fixes = append(fixes, "status")
	}
	if b.Roadmap != nil && b.Roadmap.TotalModules != len(b.Roadmap.Modules) {
		b.Roadmap.TotalModules = len(b.Roadmap.Modules)
		fixes = append(fixes, "roadmap.total_modules")
	}
	if b.Modules == nil {
		b.Modules = []*entity.GeneratedModule{}
		fixes = append(fixes, "modules")
	}
	if kept := keepRoadmapModules(b); len(kept) != len(b.Modules) {
		b.Modules = kept
		fixes = append(fixes, "modules.orphaned")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = b.UpdatedAt
		if b.CreatedAt.IsZero() {
			b.CreatedAt = r.now()
		}
		fixes = append(fixes, "created_at")
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
		fixes = append(fixes, "updated_at")
	}
	if b.Progress < 0 || b.Progress > 100 {
		b.RecomputeProgress()
		fixes = append(fixes, "progress")
	}
	return fixes
}

// keepRoadmapModules 丢弃不属于路线图或重复的生成记录
func keepRoadmapModules(b *entity.BookProject) []*entity.GeneratedModule {
	seen := make(map[string]bool, len(b.Modules))
	kept := make([]*entity.GeneratedModule, 0, len(b.Modules))
	for _, m := range b.Modules {
		if m == nil || seen[m.RoadmapModuleID] || b.Roadmap.ModuleIndex(m.RoadmapModuleID) < 0 {
			continue
		}
		seen[m.RoadmapModuleID] = true
		kept = append(kept, m)
	}
	return kept
}

// Save 保存整条书籍记录
func (r *BookRepository) Save(ctx context.Context, book *entity.BookProject) error {
	if book == nil || book.ID == "" {
		return apperrors.ErrInvalidParam.WithDetail("book id is required")
	}
	ctx, span := tracer.Start(ctx, "kvrepo.BookRepository.Save",
		trace.WithAttributes(attribute.String("book.id", book.ID)))
	defer span.End()

	data, err := json.Marshal(book)
	if err != nil {
		return apperrors.ErrStorage.WithError(fmt.Errorf("failed to encode book: %w", err))
	}
	if err := r.store.Set(ctx, bookKey(book.ID), data); err != nil {
		span.RecordError(err)
		return apperrors.ErrStorage.WithError(err).WithDetail("save book " + book.ID)
	}
	return nil
}

func (r *BookRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, bookKey(id)); err != nil {
		return apperrors.ErrStorage.WithError(err).WithDetail("delete book " + id)
	}
	return nil
}

// List 按更新时间倒序分页，损坏的记录跳过并记录日志
func (r *BookRepository) List(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.BookProject], error) {
	ctx, span := tracer.Start(ctx, "kvrepo.BookRepository.List")
	defer span.End()

	keys, err := r.store.Keys(ctx, BookKeyPrefix)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.ErrStorage.WithError(err).WithDetail("list books")
	}

	books := make([]*entity.BookProject, 0, len(keys))
	for _, key := range keys {
		id := key[len(BookKeyPrefix):]
		data, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, repository.ErrKeyNotFound) {
				continue
			}
			return nil, apperrors.ErrStorage.WithError(err).WithDetail("load book " + id)
		}
		book, err := r.decode(ctx, id, data)
		if err != nil {
			continue
		}
		books = append(books, book)
	}

	sort.SliceStable(books, func(i, j int) bool {
		return books[i].UpdatedAt.After(books[j].UpdatedAt)
	})

	total := int64(len(books))
	start := pagination.Offset()
	if start > len(books) {
		start = len(books)
	}
	end := start + pagination.Limit()
	if end > len(books) {
		end = len(books)
	}
	return repository.NewPagedResult(books[start:end], total, pagination), nil
}

// DeleteAll 删除全部书籍
func (r *BookRepository) DeleteAll(ctx context.Context) error {
	if pd, ok := r.store.(prefixDeleter); ok {
		n, err := pd.DeletePrefix(ctx, BookKeyPrefix)
		if err != nil {
			return apperrors.ErrStorage.WithError(err).WithDetail("delete all books")
		}
		logger.Info(ctx, "deleted all books", "count", n)
		return nil
	}

	keys, err := r.store.Keys(ctx, BookKeyPrefix)
	if err != nil {
		return apperrors.ErrStorage.WithError(err).WithDetail("list books")
	}
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			return apperrors.ErrStorage.WithError(err).WithDetail("delete " + key)
		}
	}
	logger.Info(ctx, "deleted all books", "count", len(keys))
	return nil
}
