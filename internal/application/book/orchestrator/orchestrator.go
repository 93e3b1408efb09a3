// Package orchestrator 按书驱动模块生成的状态机。
//
// 每本书最多一个运行实例，运行在独立协程中，串行处理 Pause/Resume/Cancel/重试决策命令。
// 失败不会自动重试：运行进入 WaitingRetry，等待调用方给出 retry、switch 或 skip。
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pustakam-api/internal/application/book/generator"
	"pustakam-api/internal/domain/entity"
	"pustakam-api/internal/domain/repository"
	workflowport "pustakam-api/internal/workflow/port"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
	"pustakam-api/pkg/metrics"
)

// Decision 重试决策
type Decision string

const (
	DecisionRetry  Decision = "retry"
	DecisionSwitch Decision = "switch"
	DecisionSkip   Decision = "skip"
)

// ParseDecision 解析决策字符串
func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(s); d {
	case DecisionRetry, DecisionSwitch, DecisionSkip:
		return d, true
	}
	return "", false
}

// RetryDecision 调用方对失败模块的处理决定；switch 时 Provider/Model 指定新模型
type RetryDecision struct {
	Decision Decision `json:"decision"`
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// StartOptions 启动或恢复运行的参数
type StartOptions struct {
	Provider    string
	Model       string
	Language    string
	Preferences *entity.Preferences
}

// RunLock 跨进程的单书运行锁
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

// Options 可选依赖
type Options struct {
	Policy  *RetryPolicy
	Lock    RunLock
	LockTTL time.Duration
	Now     func() time.Time
}

// Orchestrator 生成编排器
type Orchestrator struct {
	repo    repository.BookRepository
	clients workflowport.ModelClientFactory
	gen     *generator.Generator
	hub     *Hub
	policy  *RetryPolicy
	lock    RunLock
	lockTTL time.Duration
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]*run
}

// New 创建编排器
func New(repo repository.BookRepository, clients workflowport.ModelClientFactory, gen *generator.Generator, hub *Hub, opts Options) *Orchestrator {
	o := &Orchestrator{
		repo:    repo,
		clients: clients,
		gen:     gen,
		hub:     hub,
		policy:  opts.Policy,
		lock:    opts.Lock,
		lockTTL: opts.LockTTL,
		now:     opts.Now,
		runs:    make(map[string]*run),
	}
	if o.policy == nil {
		o.policy = DefaultRetryPolicy()
	}
	if o.lockTTL <= 0 {
		o.lockTTL = 2 * time.Minute
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.hub == nil {
		o.hub = NewHub(0, nil)
	}
	return o
}

// Hub 事件中心
func (o *Orchestrator) Hub() *Hub {
	return o.hub
}

// Policy 当前重试策略
func (o *Orchestrator) Policy() *RetryPolicy {
	return o.policy
}

// Start 为书启动一次运行。同一本书已有运行时返回 ErrRunActive。
func (o *Orchestrator) Start(ctx context.Context, bookID string, opts StartOptions) error {
	o.mu.Lock()
	if _, ok := o.runs[bookID]; ok {
		o.mu.Unlock()
		return apperrors.ErrRunActive
	}
	r := newRun(o, bookID)
	o.runs[bookID] = r
	o.mu.Unlock()

	if err := r.prepare(ctx, opts); err != nil {
		r.detach()
		close(r.done)
		return err
	}

	metrics.BookRunsTotal.WithLabelValues("started").Inc()
	metrics.ActiveRuns.Inc()
	go r.loop()
	return nil
}

// Resume 恢复暂停的运行；内存中没有运行时按持久化状态重新启动
func (o *Orchestrator) Resume(ctx context.Context, bookID string, opts StartOptions) error {
	if o.get(bookID) == nil {
		return o.Start(ctx, bookID, opts)
	}
	return o.send(ctx, bookID, command{kind: cmdResume, start: opts})
}

// RetryFailed 重新尝试 error 状态的模块；未完成模块都会在新运行中按顺序重试
func (o *Orchestrator) RetryFailed(ctx context.Context, bookID string, opts StartOptions) error {
	return o.Start(ctx, bookID, opts)
}

// Pause 暂停运行，等进行中的调用真正结束后返回
func (o *Orchestrator) Pause(ctx context.Context, bookID string) error {
	return o.send(ctx, bookID, command{kind: cmdPause})
}

// Cancel 取消运行，书状态回到 roadmap_completed
func (o *Orchestrator) Cancel(ctx context.Context, bookID string) error {
	return o.send(ctx, bookID, command{kind: cmdCancel})
}

// SubmitRetryDecision 提交失败模块的处理决定
func (o *Orchestrator) SubmitRetryDecision(ctx context.Context, bookID string, d RetryDecision) error {
	if _, ok := ParseDecision(string(d.Decision)); !ok {
		return apperrors.ErrInvalidParam.WithDetail("decision must be retry, switch or skip")
	}
	return o.send(ctx, bookID, command{kind: cmdDecision, decision: d})
}

// IsActive 书是否有运行实例（包括暂停中的）
func (o *Orchestrator) IsActive(bookID string) bool {
	return o.get(bookID) != nil
}

// Snapshot 最近一次状态事件
func (o *Orchestrator) Snapshot(bookID string) (Event, bool) {
	return o.hub.Last(bookID)
}

// ActiveBooks 当前有运行实例的书
func (o *Orchestrator) ActiveBooks() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	return ids
}

// Forget 丢弃书的事件快照，书被删除后调用
func (o *Orchestrator) Forget(bookID string) {
	o.hub.Forget(bookID)
}

// Shutdown 停止所有运行；已完成的模块均已持久化，重启后可恢复
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		if err := o.send(ctx, r.bookID, command{kind: cmdStop}); err != nil {
			logger.Warn(ctx, "failed to stop run", "book_id", r.bookID, "error", err)
			continue
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) get(bookID string) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[bookID]
}

func (o *Orchestrator) remove(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.runs[r.bookID]; ok && cur == r {
		delete(o.runs, r.bookID)
	}
}

var errNoActiveRun = apperrors.ErrInvalidTransition.WithDetail("no active run for book")

// send 把命令交给运行协程并等待确认
func (o *Orchestrator) send(ctx context.Context, bookID string, cmd command) error {
	r := o.get(bookID)
	if r == nil {
		return errNoActiveRun
	}
	cmd.ack = make(chan error, 1)

	select {
	case r.cmds <- cmd:
	case <-r.done:
		return errNoActiveRun
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRunID() string {
	return uuid.NewString()
}
