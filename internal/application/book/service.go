// Package book 书籍用例：规划路线图、控制生成运行、组装与导出
package book

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"pustakam-api/internal/application/book/assembler"
	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/application/book/planner"
	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	workflowport "pustakam-api/internal/workflow/port"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// SettingsProvider 当前用户设置
type SettingsProvider interface {
	Get(ctx context.Context) (*entity.Settings, error)
	Clear(ctx context.Context) error
}

// CreateInput 创建书籍参数
type CreateInput struct {
	Goal        string
	Provider    string
	Model       string
	Language    string
	Preferences *entity.Preferences
}

// Service 书籍应用服务
type Service struct {
	repo     repository.BookRepository
	settings SettingsProvider
	clients  workflowport.ModelClientFactory
	planner  *planner.Planner
	runner   Runner
	exporter *Exporter
	now      func() time.Time
	newID    func() string
}

// NewService 创建书籍服务，exporter 可为空
func NewService(
	repo repository.BookRepository,
	settings SettingsProvider,
	clients workflowport.ModelClientFactory,
	p *planner.Planner,
	runner Runner,
	exporter *Exporter,
) *Service {
	return &Service{
		repo:     repo,
		settings: settings,
		clients:  clients,
		planner:  p,
		runner:   runner,
		exporter: exporter,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Runner 运行控制
func (s *Service) Runner() Runner {
	return s.runner
}

// withSettings 未指定提供商/模型时使用用户设置
func (s *Service) withSettings(ctx context.Context, provider, model string) (string, string) {
	provider, model = strings.TrimSpace(provider), strings.TrimSpace(model)
	if provider != "" || s.settings == nil {
		return provider, model
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to load settings, using configured defaults", "error", err)
		return provider, model
	}
	return string(st.SelectedProvider), st.SelectedModel
}

// CreateRoadmap 创建书并规划路线图；规划失败时书保留为 error 状态
func (s *Service) CreateRoadmap(ctx context.Context, in CreateInput) (*entity.BookProject, error) {
	goal := strings.TrimSpace(in.Goal)
	if goal == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("goal is required")
	}

	provider, model := s.withSettings(ctx, in.Provider, in.Model)
	client, err := s.clients.Client(ctx, provider, model)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "model client unavailable")
	}

	book := entity.NewBookProject(s.newID(), goal, s.now())
	book.Status = entity.BookStatusGeneratingRoadmap
	if err := s.repo.Save(ctx, book); err != nil {
		return nil, err
	}
	ctx = logger.WithBook(ctx, book.ID)

	session := entity.SessionFromBook(book, entity.ModelProvider(client.Provider()), client.Model(), in.Preferences)
	if in.Language != "" {
		session.Language = in.Language
	}

	plan, err := s.planner.Plan(ctx, client, session)
	if err != nil {
		book.Status = entity.BookStatusError
		book.Error = err.Error()
		book.Touch(s.now())
		if saveErr := s.repo.Save(ctx, book); saveErr != nil {
			logger.Error(ctx, "failed to persist roadmap failure", saveErr)
		}
		var pe *planner.Error
		if errors.As(err, &pe) {
			return book, pe.AppError()
		}
		return book, err
	}

	book.Reasoning = plan.Reasoning
	book.SetRoadmap(plan.Roadmap, plan.Title, s.now())
	if err := s.repo.Save(ctx, book); err != nil {
		return nil, err
	}
	logger.Info(ctx, "roadmap created", "modules", book.TotalModules(), "title", book.Title)
	return book, nil
}

// Get 读取书籍
func (s *Service) Get(ctx context.Context, id string) (*entity.BookProject, error) {
	book, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, apperrors.ErrBookNotFound
	}
	return book, nil
}

// List 分页列出书籍
func (s *Service) List(ctx context.Context, page repository.Pagination) (*repository.PagedResult[*entity.BookProject], error) {
	return s.repo.List(ctx, page)
}

func (s *Service) startOptions(ctx context.Context, opts orchestrator.StartOptions) orchestrator.StartOptions {
	opts.Provider, opts.Model = s.withSettings(ctx, opts.Provider, opts.Model)
	return opts
}

// Start 开始生成全部未完成模块
func (s *Service) Start(ctx context.Context, id string, opts orchestrator.StartOptions) error {
	book, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !book.HasRoadmap() {
		return apperrors.ErrInvalidTransition.WithDetail("book has no roadmap")
	}
	if err := runnable(book); err != nil {
		return err
	}
	if s.runner.IsActive(id) {
		return apperrors.ErrRunActive
	}
	return s.runner.Start(ctx, id, s.startOptions(ctx, opts))
}

// runnable 已组装或组装中的书不再生成
func runnable(book *entity.BookProject) error {
	if book.Status.IsFinalized() {
		return apperrors.ErrInvalidTransition.WithDetail("book is already " + string(book.Status))
	}
	return nil
}

// Resume 恢复暂停的运行，没有运行时从持久化状态继续
func (s *Service) Resume(ctx context.Context, id string, opts orchestrator.StartOptions) error {
	book, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.runner.IsActive(id) {
		if err := runnable(book); err != nil {
			return err
		}
		opts = s.startOptions(ctx, opts)
	}
	return s.runner.Resume(ctx, id, opts)
}

// RetryFailedModules 对失败模块重新发起一次运行
func (s *Service) RetryFailedModules(ctx context.Context, id string, opts orchestrator.StartOptions) error {
	book, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := runnable(book); err != nil {
		return err
	}
	if s.runner.IsActive(id) {
		return apperrors.ErrRunActive
	}
	if book.FailedCount() == 0 {
		return apperrors.ErrInvalidTransition.WithDetail("book has no failed modules")
	}
	return s.runner.RetryFailed(ctx, id, s.startOptions(ctx, opts))
}

func (s *Service) Pause(ctx context.Context, id string) error {
	return s.runner.Pause(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.runner.Cancel(ctx, id)
}

func (s *Service) SubmitRetryDecision(ctx context.Context, id string, d orchestrator.RetryDecision) error {
	return s.runner.SubmitRetryDecision(ctx, id, d)
}

// Status 运行快照；没有运行时由持久化状态构造
func (s *Service) Status(ctx context.Context, id string) (orchestrator.Event, error) {
	book, err := s.Get(ctx, id)
	if err != nil {
		return orchestrator.Event{}, err
	}
	if ev, ok := s.runner.Snapshot(id); ok && s.runner.IsActive(id) {
		return ev, nil
	}
	stats := orchestrator.ComputeStats(book)
	ev := orchestrator.Event{
		Type:            orchestrator.EventTransition,
		BookID:          id,
		State:           orchestrator.StateIdle,
		BookStatus:      book.Status,
		OverallProgress: book.Progress,
		Stats:           &stats,
		Error:           book.Error,
		Timestamp:       s.now(),
	}
	if last, ok := s.runner.Snapshot(id); ok {
		ev.State = last.State
		ev.LogMessage = last.LogMessage
	} else if book.AllModulesDone() {
		// 重启后没有快照，全部模块已完成的书与中断的运行据此区分
		ev.State = orchestrator.StateCompleted
	}
	return ev, nil
}

// Assemble 组装成书并保存，状态置为 completed
func (s *Service) Assemble(ctx context.Context, id string) (*entity.BookProject, error) {
	book, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.runner.IsActive(id) {
		return nil, apperrors.ErrRunActive
	}

	text, err := assembler.Assemble(book)
	if err != nil {
		return nil, err
	}
	book.FinalBook = text
	book.Status = entity.BookStatusCompleted
	book.Error = ""
	book.RecomputeProgress()
	book.Touch(s.now())
	if err := s.repo.Save(ctx, book); err != nil {
		return nil, err
	}
	logger.Info(logger.WithBook(ctx, id), "book assembled", "words", entity.CountWords(text))
	return book, nil
}

// UpdateContent 替换成书文本
func (s *Service) UpdateContent(ctx context.Context, id, finalBook string) (*entity.BookProject, error) {
	return s.mutateIdle(ctx, id, func(b *entity.BookProject) error {
		b.FinalBook = finalBook
		return nil
	})
}

// UpdateStatus 手动修改书状态
func (s *Service) UpdateStatus(ctx context.Context, id string, status entity.BookStatus) (*entity.BookProject, error) {
	if !status.IsValid() {
		return nil, apperrors.ErrInvalidParam.WithDetail("unknown book status " + string(status))
	}
	return s.mutateIdle(ctx, id, func(b *entity.BookProject) error {
		b.Status = status
		return nil
	})
}

// mutateIdle 只允许在没有运行时修改
func (s *Service) mutateIdle(ctx context.Context, id string, fn func(*entity.BookProject) error) (*entity.BookProject, error) {
	if s.runner.IsActive(id) {
		return nil, apperrors.ErrRunActive
	}
	book, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(book); err != nil {
		return nil, err
	}
	book.Touch(s.now())
	if err := s.repo.Save(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// Delete 删除书，先取消进行中的运行
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if s.runner.IsActive(id) {
		if err := s.runner.Cancel(ctx, id); err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			return err
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.runner.Forget(id)
	logger.Info(logger.WithBook(ctx, id), "book deleted")
	return nil
}

// ClearAllData 取消全部运行并清除书籍与设置
func (s *Service) ClearAllData(ctx context.Context) error {
	for _, id := range s.runner.ActiveBooks() {
		if err := s.runner.Cancel(ctx, id); err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			logger.Warn(ctx, "failed to cancel run before clearing data", "book_id", id, "error", err)
		}
	}
	if err := s.repo.DeleteAll(ctx); err != nil {
		return err
	}
	if s.settings != nil {
		if err := s.settings.Clear(ctx); err != nil {
			return err
		}
	}
	logger.Info(ctx, "all data cleared")
	return nil
}
