package book

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"pustakam-api/internal/application/book/assembler"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// ObjectStore 成书导出目标
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ExportResult 导出结果
type ExportResult struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Exporter 把成书 Markdown 上传到对象存储并返回预签名地址
type Exporter struct {
	store ObjectStore
	ttl   time.Duration
	now   func() time.Time
}

// NewExporter store 为空时导出不可用
func NewExporter(store ObjectStore, ttl time.Duration) *Exporter {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Exporter{store: store, ttl: ttl, now: time.Now}
}

// Enabled 是否配置了对象存储
func (e *Exporter) Enabled() bool {
	return e != nil && e.store != nil
}

func (e *Exporter) export(ctx context.Context, bookID, title, text string) (*ExportResult, error) {
	key := fmt.Sprintf("books/%s/%s.md", bookID, slugify(title))
	if err := e.store.Put(ctx, key, strings.NewReader(text), int64(len(text)), "text/markdown; charset=utf-8"); err != nil {
		return nil, apperrors.ErrStorage.WithError(err).WithDetail("failed to upload book export")
	}
	url, err := e.store.PresignGet(ctx, key, e.ttl)
	if err != nil {
		return nil, apperrors.ErrStorage.WithError(err).WithDetail("failed to presign book export")
	}
	return &ExportResult{Key: key, URL: url, ExpiresAt: e.now().Add(e.ttl)}, nil
}

// slugify 标题转文件名，空标题用 book
func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 80 {
			break
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "book"
	}
	return s
}

// Export 导出成书；尚未组装时按当前模块临时组装，不修改书的状态
func (s *Service) Export(ctx context.Context, id string) (*ExportResult, error) {
	if !s.exporter.Enabled() {
		return nil, apperrors.ErrServiceUnavailable.WithDetail("object storage is not configured")
	}
	book, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	text := book.FinalBook
	if strings.TrimSpace(text) == "" {
		if text, err = assembler.Assemble(book); err != nil {
			return nil, err
		}
	}
	res, err := s.exporter.export(ctx, id, book.Title, text)
	if err != nil {
		return nil, err
	}
	logger.Info(logger.WithBook(ctx, id), "book exported", "key", res.Key)
	return res, nil
}
