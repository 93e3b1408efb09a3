// Package worker 把 Redis Stream 中的运行命令分派给书籍服务
package worker

import (
	"context"
	"fmt"
	"net/http"

	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/infrastructure/messaging"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// BookCommands 命令执行方，由 book.Service 实现
type BookCommands interface {
	Start(ctx context.Context, id string, opts orchestrator.StartOptions) error
	Resume(ctx context.Context, id string, opts orchestrator.StartOptions) error
	RetryFailedModules(ctx context.Context, id string, opts orchestrator.StartOptions) error
	Pause(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	SubmitRetryDecision(ctx context.Context, id string, d orchestrator.RetryDecision) error
}

// CommandHandler 命令处理器
type CommandHandler struct {
	books BookCommands
}

// NewCommandHandler 创建命令处理器
func NewCommandHandler(books BookCommands) *CommandHandler {
	return &CommandHandler{books: books}
}

// Register 为每种命令注册处理函数
func (h *CommandHandler) Register(c *messaging.Consumer) {
	for _, kind := range []string{
		messaging.CommandGenerate,
		messaging.CommandResume,
		messaging.CommandRetryFailed,
		messaging.CommandPause,
		messaging.CommandCancel,
		messaging.CommandRetryDecision,
	} {
		c.RegisterHandler(kind, h.Handle)
	}
}

// Handle 执行一条命令。业务拒绝（状态不允许、书籍不存在等）会被确认丢弃，
// 存储或内部错误返回给消费者按退避重投
func (h *CommandHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var cmd messaging.BookCommandMessage
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		logger.Warn(ctx, "dropping malformed command", "message_id", msg.ID, "error", err)
		return nil
	}
	if cmd.BookID == "" {
		cmd.BookID = msg.BookID
	}
	ctx = logger.WithContext(ctx, logger.BookIDKey, cmd.BookID)

	err := h.dispatch(ctx, &cmd)
	if err == nil {
		logger.Info(ctx, "command applied", "command", cmd.Command, "command_id", cmd.CommandID)
		return nil
	}

	appErr := apperrors.AsAppError(err)
	if appErr.HTTPStatus > 0 && appErr.HTTPStatus < http.StatusInternalServerError {
		logger.Warn(ctx, "command rejected",
			"command", cmd.Command,
			"command_id", cmd.CommandID,
			"code", appErr.Code,
			"error", err,
		)
		return nil
	}
	return err
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd *messaging.BookCommandMessage) error {
	opts := orchestrator.StartOptions{
		Provider:    cmd.Provider,
		Model:       cmd.Model,
		Language:    cmd.Language,
		Preferences: cmd.Preferences,
	}

	switch cmd.Command {
	case messaging.CommandGenerate:
		return h.books.Start(ctx, cmd.BookID, opts)
	case messaging.CommandResume:
		return h.books.Resume(ctx, cmd.BookID, opts)
	case messaging.CommandRetryFailed:
		return h.books.RetryFailedModules(ctx, cmd.BookID, opts)
	case messaging.CommandPause:
		return h.books.Pause(ctx, cmd.BookID)
	case messaging.CommandCancel:
		return h.books.Cancel(ctx, cmd.BookID)
	case messaging.CommandRetryDecision:
		d, ok := orchestrator.ParseDecision(cmd.Decision)
		if !ok {
			return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown decision %q", cmd.Decision))
		}
		return h.books.SubmitRetryDecision(ctx, cmd.BookID, orchestrator.RetryDecision{
			Decision: d,
			Provider: cmd.Provider,
			Model:    cmd.Model,
		})
	default:
		return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown command %q", cmd.Command))
	}
}
