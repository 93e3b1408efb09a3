package book

import (
	"context"

	"pustakam-api/internal/application/book/orchestrator"
)

// Runner 控制书籍的生成运行；进程内由 Orchestrator 实现，队列模式由 QueuedRunner 实现
type Runner interface {
	Start(ctx context.Context, bookID string, opts orchestrator.StartOptions) error
	Resume(ctx context.Context, bookID string, opts orchestrator.StartOptions) error
	RetryFailed(ctx context.Context, bookID string, opts orchestrator.StartOptions) error
	Pause(ctx context.Context, bookID string) error
	Cancel(ctx context.Context, bookID string) error
	SubmitRetryDecision(ctx context.Context, bookID string, d orchestrator.RetryDecision) error
	IsActive(bookID string) bool
	Snapshot(bookID string) (orchestrator.Event, bool)
	ActiveBooks() []string
	// Forget 丢弃书的事件快照
	Forget(bookID string)
}

var _ Runner = (*orchestrator.Orchestrator)(nil)
