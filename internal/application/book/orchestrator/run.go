package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pustakam-api/internal/application/book/generator"
	"pustakam-api/internal/domain/entity"
	wfmodel "pustakam-api/internal/workflow/model"
	workflowport "pustakam-api/internal/workflow/port"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
	"pustakam-api/pkg/metrics"
)

type commandKind string

const (
	cmdPause    commandKind = "pause"
	cmdResume   commandKind = "resume"
	cmdCancel   commandKind = "cancel"
	cmdDecision commandKind = "retry_decision"
	cmdStop     commandKind = "stop"
)

// command 每条命令必须且只能被确认一次
type command struct {
	kind     commandKind
	decision RetryDecision
	start    StartOptions
	ack      chan error
}

// retryState 当前失败模块的等待信息，成功、跳过或换模型后丢弃；暂停时保留
type retryState struct {
	module entity.RoadmapModule
	until  time.Time
	info   RetryInfo
}

// run 一本书的一次编排运行。除 cmds/done 外的字段只由 loop 协程访问。
type run struct {
	o      *Orchestrator
	id     string
	bookID string
	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	done   chan struct{}

	book    *entity.BookProject
	session entity.GenerationSession
	client  workflowport.ModelClient
	state   State
	skipped map[string]bool
	retry   *retryState
	saveErr error

	current *entity.RoadmapModule
	attempt int

	lockKey   string
	lockToken string
	lockStop  context.CancelFunc
	detached  sync.Once
}

func newRun(o *Orchestrator, bookID string) *run {
	id := newRunID()
	ctx := logger.WithContext(logger.WithBook(context.Background(), bookID), logger.RunIDKey, id)
	ctx, cancel := context.WithCancel(ctx)
	return &run{
		o:       o,
		id:      id,
		bookID:  bookID,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command),
		done:    make(chan struct{}),
		state:   StateIdle,
		skipped: make(map[string]bool),
		lockKey: "run:book:" + bookID,
	}
}

// prepare 加载书、获取模型客户端与运行锁，并把书置为 generating_content
func (r *run) prepare(ctx context.Context, opts StartOptions) error {
	book, err := r.o.repo.Load(ctx, r.bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return apperrors.ErrBookNotFound
	}
	if !book.HasRoadmap() {
		return apperrors.ErrInvalidTransition.WithDetail("book has no roadmap")
	}
	if book.Status.IsFinalized() {
		return apperrors.ErrInvalidTransition.WithDetail("book is already " + string(book.Status))
	}

	client, err := r.o.clients.Client(ctx, opts.Provider, opts.Model)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeLLMProviderError, "model client unavailable")
	}

	if r.o.lock != nil {
		token, ok, err := r.o.lock.Acquire(ctx, r.lockKey, r.o.lockTTL)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeCacheError, "failed to acquire run lock")
		}
		if !ok {
			return apperrors.ErrRunActive
		}
		r.lockToken = token
	}

	r.book = book
	r.client = client
	r.session = entity.SessionFromBook(book, entity.ModelProvider(client.Provider()), client.Model(), opts.Preferences)
	if opts.Language != "" {
		r.session.Language = opts.Language
	}

	book.Status = entity.BookStatusGeneratingContent
	book.Error = ""
	book.RecomputeProgress()
	book.Touch(r.o.now())
	if err := r.o.repo.Save(ctx, book); err != nil {
		r.releaseLock()
		return err
	}
	r.state = StateGenerating
	logger.Info(r.ctx, "generation run started", "provider", client.Provider(), "model", client.Model(),
		"completed", book.CompletedCount(), "total", book.TotalModules())
	return nil
}

func (r *run) loop() {
	defer r.finish()
	if r.lockToken != "" {
		lockCtx, stop := context.WithCancel(r.ctx)
		r.lockStop = stop
		go r.keepLock(lockCtx)
	}

	for {
		var ok bool
		switch r.state {
		case StateGenerating:
			ok = r.generateNext()
		case StatePaused:
			ok = r.awaitResume()
		case StateWaitingRetry:
			ok = r.awaitDecision()
		default:
			return
		}
		if !ok {
			return
		}
	}
}

// detach 让出运行槽位与运行锁，之后同一本书可以再次启动
func (r *run) detach() {
	r.detached.Do(func() {
		r.o.remove(r)
		r.releaseLock()
	})
}

func (r *run) finish() {
	r.detach()
	r.cancel()
	metrics.ActiveRuns.Dec()
	metrics.BookRunsTotal.WithLabelValues(string(r.state)).Inc()
	logger.Info(r.ctx, "generation run ended", "state", r.state)
	close(r.done)
}

func (r *run) releaseLock() {
	if r.lockStop != nil {
		r.lockStop()
	}
	if r.o.lock == nil || r.lockToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()
	if err := r.o.lock.Release(ctx, r.lockKey, r.lockToken); err != nil {
		logger.Warn(ctx, "failed to release run lock", "error", err)
	}
	r.lockToken = ""
}

func (r *run) keepLock(ctx context.Context) {
	ticker := time.NewTicker(r.o.lockTTL / 3)
	defer ticker.Stop()
	token := r.lockToken
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.o.lock.Refresh(ctx, r.lockKey, token, r.o.lockTTL); err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "failed to refresh run lock", "error", err)
			}
		}
	}
}

func (r *run) nextModule() (entity.RoadmapModule, int, bool) {
	for i, rm := range r.book.Roadmap.Modules {
		if r.book.IsModuleDone(rm.ID) || r.skipped[rm.ID] {
			continue
		}
		return rm, i, true
	}
	return entity.RoadmapModule{}, -1, false
}

func (r *run) priorContent(idx int) string {
	if idx <= 0 {
		return ""
	}
	if m := r.book.Module(r.book.Roadmap.Modules[idx-1].ID); m.IsDone() {
		return m.Content
	}
	return ""
}

// generateNext 生成下一个未完成模块。进行中收到 pause/cancel 时先取消调用，
// 等生成器关闭通道（调用真正结束）后再切换状态并确认命令。
func (r *run) generateNext() bool {
	rm, idx, ok := r.nextModule()
	if !ok {
		r.complete()
		return true
	}
	total := r.book.TotalModules()
	r.current = &rm
	r.attempt = 1
	if m := r.book.Module(rm.ID); m != nil {
		r.attempt = m.Attempts + 1
	}
	r.emit(fmt.Sprintf("Generating module %d/%d: %s (attempt %d)", idx+1, total, rm.Title, r.attempt), StageAnalyzing)

	input := wfmodel.ModuleGenerateInput{
		BookTitle:    r.book.Title,
		Session:      r.session,
		Module:       rm,
		ModuleNumber: idx + 1,
		TotalModules: total,
		PriorContext: r.priorContent(idx),
	}
	genCtx, cancelGen := context.WithCancel(logger.WithContext(r.ctx, logger.ModuleIDKey, rm.ID))
	defer cancelGen()
	started := r.o.now()
	updates := r.o.gen.Generate(genCtx, r.client, input)

	var final generator.Update
	var interrupt *command
	chars := 0
	for updates != nil {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if u.Final {
				final = u
				continue
			}
			if interrupt == nil {
				chars += len(u.Delta)
				r.emitDelta(u.Delta, chars)
			}
		case cmd := <-r.cmds:
			switch cmd.kind {
			case cmdPause, cmdCancel, cmdStop:
				if interrupt != nil {
					cmd.ack <- apperrors.ErrInvalidTransition.WithDetail("run is already stopping")
					continue
				}
				c := cmd
				interrupt = &c
				cancelGen()
			default:
				cmd.ack <- r.rejected(cmd)
			}
		}
	}
	elapsed := r.o.now().Sub(started)

	switch {
	case final.Err == nil && final.Content != "":
		r.onSuccess(rm, idx, final.Content, elapsed)
	case interrupt != nil:
		logger.Info(r.ctx, "in-flight module discarded", "module_id", rm.ID, "command", interrupt.kind)
	case final.Err != nil && final.Err.Kind == workflowport.KindCancelled:
		r.state = StatePaused
	default:
		r.onFailure(rm, final.Err)
	}

	if interrupt != nil {
		return r.applyInterrupt(*interrupt)
	}
	return true
}

func (r *run) applyInterrupt(cmd command) bool {
	switch cmd.kind {
	case cmdCancel:
		r.cancelRun(cmd)
		return true
	case cmdStop:
		r.state = StatePaused
		cmd.ack <- nil
		return false
	default:
		if r.state == StateGenerating || r.state == StateWaitingRetry {
			r.state = StatePaused
			r.emit("Generation paused", "")
		}
		cmd.ack <- nil
		return true
	}
}

func (r *run) onSuccess(rm entity.RoadmapModule, idx int, content string, elapsed time.Duration) {
	now := r.o.now()
	m := r.book.RecordSuccess(rm, content, elapsed, r.client.Provider(), r.client.Model(), now)
	r.retry = nil
	metrics.ModuleAttemptsTotal.WithLabelValues(r.client.Provider(), "success").Inc()
	metrics.ModuleGenerationDuration.WithLabelValues(r.client.Provider()).Observe(elapsed.Seconds())
	metrics.ModuleWordCount.Observe(float64(m.WordCount))

	if err := r.persist(); err != nil {
		r.storageFailure(err)
		return
	}
	logger.Info(r.ctx, "module completed", "module_id", rm.ID, "attempts", m.Attempts, "words", m.WordCount,
		"duration_ms", m.DurationMs)
	r.emit(fmt.Sprintf("Module %d completed (%d words)", idx+1, m.WordCount), StageWriting)
}

func (r *run) onFailure(rm entity.RoadmapModule, ce *workflowport.CallError) {
	if ce == nil {
		ce = workflowport.NewCallError(workflowport.KindProvider, "generation ended without content", nil)
	}
	now := r.o.now()
	m := r.book.RecordFailure(rm, ce.Message, r.client.Provider(), r.client.Model(), now)
	metrics.ModuleAttemptsTotal.WithLabelValues(r.client.Provider(), string(ce.Kind)).Inc()

	wait := r.o.policy.WaitFor(ce.Kind, m.FailedAttempts, ce.RetryAfter)
	r.retry = &retryState{
		module: rm,
		until:  now.Add(wait),
		info: RetryInfo{
			ModuleID:       rm.ID,
			ModuleTitle:    rm.Title,
			Error:          ce.Message,
			Kind:           ce.Kind,
			RetryCount:     m.FailedAttempts,
			MaxRetries:     r.o.policy.MaxRetries,
			WaitTimeMs:     wait.Milliseconds(),
			RetryAt:        now.Add(wait),
			CeilingReached: r.o.policy.CeilingReached(m.FailedAttempts),
		},
	}

	if err := r.persist(); err != nil {
		r.storageFailure(err)
		return
	}
	r.state = StateWaitingRetry
	logger.Warn(r.ctx, "module generation failed", "module_id", rm.ID, "kind", ce.Kind, "error", ce.Message,
		"failed_attempts", m.FailedAttempts, "wait", wait)
	r.emit(fmt.Sprintf("Module %q failed: %s", rm.Title, ce.Message), "")
}

// awaitResume 暂停中只接受 resume/cancel。暂停前有待决策的失败模块时，
// resume 回到 WaitingRetry，退避截止时间不变
func (r *run) awaitResume() bool {
	for {
		cmd := <-r.cmds
		switch cmd.kind {
		case cmdResume:
			if r.saveErr != nil {
				if err := r.persist(); err != nil {
					r.saveErr = err
					cmd.ack <- err
					r.emit("Storage is still unavailable", "")
					continue
				}
				r.saveErr = nil
			}
			if err := r.applyStartOptions(cmd.start); err != nil {
				cmd.ack <- err
				continue
			}
			if r.retry != nil {
				r.state = StateWaitingRetry
				cmd.ack <- nil
				logger.Info(r.ctx, "generation resumed, waiting for retry decision", "module_id", r.retry.module.ID)
				r.emit(fmt.Sprintf("Module %q still needs a retry decision", r.retry.module.Title), "")
				return true
			}
			r.state = StateGenerating
			cmd.ack <- nil
			logger.Info(r.ctx, "generation resumed")
			return true
		case cmdPause:
			cmd.ack <- nil
		case cmdCancel:
			r.cancelRun(cmd)
			return true
		case cmdStop:
			cmd.ack <- nil
			return false
		default:
			cmd.ack <- r.rejected(cmd)
		}
	}
}

// awaitDecision 等待重试决策。retry 在剩余退避时间结束后才重新调用，等待期间仍可暂停或取消。
func (r *run) awaitDecision() bool {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-fire:
			r.retry = nil
			r.state = StateGenerating
			return true

		case cmd := <-r.cmds:
			switch cmd.kind {
			case cmdDecision:
				d := cmd.decision
				switch d.Decision {
				case DecisionRetry:
					if fire != nil {
						cmd.ack <- nil
						continue
					}
					metrics.RetryDecisionsTotal.WithLabelValues(string(DecisionRetry)).Inc()
					wait := r.remainingWait()
					cmd.ack <- nil
					if wait <= 0 {
						r.retry = nil
						r.state = StateGenerating
						return true
					}
					timer = time.NewTimer(wait)
					fire = timer.C
					r.emit(fmt.Sprintf("Retrying in %s", wait.Round(time.Second)), "")

				case DecisionSwitch:
					if err := r.switchClient(d.Provider, d.Model); err != nil {
						cmd.ack <- err
						continue
					}
					metrics.RetryDecisionsTotal.WithLabelValues(string(DecisionSwitch)).Inc()
					r.retry = nil
					r.state = StateGenerating
					cmd.ack <- nil
					return true

				case DecisionSkip:
					metrics.RetryDecisionsTotal.WithLabelValues(string(DecisionSkip)).Inc()
					cmd.ack <- r.skip()
					return true

				default:
					cmd.ack <- apperrors.ErrInvalidParam.WithDetail("unknown retry decision")
				}

			case cmdPause:
				r.state = StatePaused
				r.emit("Generation paused", "")
				cmd.ack <- nil
				return true
			case cmdCancel:
				r.cancelRun(cmd)
				return true
			case cmdStop:
				cmd.ack <- nil
				return false
			default:
				cmd.ack <- r.rejected(cmd)
			}
		}
	}
}

func (r *run) remainingWait() time.Duration {
	if r.retry == nil || !r.o.policy.EnforceWait {
		return 0
	}
	return r.retry.until.Sub(r.o.now())
}

func (r *run) skip() error {
	if r.retry == nil {
		r.state = StateGenerating
		return nil
	}
	rm := r.retry.module
	reason := "skipped: " + r.retry.info.Error
	r.book.MarkSkipped(rm, reason, r.o.now())
	r.skipped[rm.ID] = true
	r.retry = nil
	logger.Info(r.ctx, "module skipped", "module_id", rm.ID)

	if err := r.persist(); err != nil {
		r.storageFailure(err)
		return err
	}
	r.state = StateGenerating
	r.emit(fmt.Sprintf("Skipped module %q", rm.Title), "")
	return nil
}

func (r *run) switchClient(provider, model string) error {
	client, err := r.o.clients.Client(r.ctx, provider, model)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeLLMProviderError, "model client unavailable")
	}
	logger.Info(r.ctx, "model client switched", "from_provider", r.client.Provider(), "to_provider", client.Provider(),
		"model", client.Model())
	r.client = client
	r.session.Provider = entity.ModelProvider(client.Provider())
	r.session.Model = client.Model()
	return nil
}

func (r *run) applyStartOptions(opts StartOptions) error {
	if opts.Provider != "" || opts.Model != "" {
		if opts.Provider != r.client.Provider() || opts.Model != r.client.Model() {
			if err := r.switchClient(opts.Provider, opts.Model); err != nil {
				return err
			}
		}
	}
	if opts.Preferences != nil {
		r.session.Preferences = *opts.Preferences
	}
	if opts.Language != "" {
		r.session.Language = opts.Language
	}
	return nil
}

// cancelRun 取消保留已完成模块，书状态回到 roadmap_completed 以便之后继续。
// 书已被删除时（队列模式下删除先于取消落库）不再写回，也不发出事件。
func (r *run) cancelRun(cmd command) {
	r.retry = nil
	r.current = nil
	r.state = StateCancelled
	if r.bookDeleted() {
		r.detach()
		r.o.hub.Forget(r.bookID)
		logger.Info(r.ctx, "run cancelled for deleted book")
		cmd.ack <- nil
		return
	}

	r.book.Status = entity.BookStatusRoadmapCompleted
	r.book.Touch(r.o.now())
	err := r.persist()
	if err != nil {
		logger.Error(r.ctx, "failed to persist cancelled book", err)
		r.saveErr = err
	}
	r.detach()
	r.emit("Generation cancelled", "")
	cmd.ack <- err
}

// bookDeleted 存储中已没有这本书；读取失败时按存在处理
func (r *run) bookDeleted() bool {
	book, err := r.o.repo.Load(r.ctx, r.bookID)
	if err != nil {
		logger.Warn(r.ctx, "failed to check book before cancel", "error", err)
		return false
	}
	return book == nil
}

// complete 模块遍历结束；有跳过的模块时书进入 error 状态
func (r *run) complete() {
	r.current = nil
	r.book.RecomputeProgress()
	if r.book.AllModulesDone() {
		r.book.Error = ""
		r.book.Touch(r.o.now())
		if err := r.persist(); err != nil {
			r.storageFailure(err)
			return
		}
		r.state = StateCompleted
		r.detach()
		logger.Info(r.ctx, "all modules generated", "words", r.book.TotalWords())
		r.emit("All modules generated", StageComplete)
		return
	}

	r.book.Status = entity.BookStatusError
	r.book.Error = fmt.Sprintf("%d of %d modules failed to generate", r.book.TotalModules()-r.book.CompletedCount(),
		r.book.TotalModules())
	r.book.Touch(r.o.now())
	if err := r.persist(); err != nil {
		r.storageFailure(err)
		return
	}
	r.state = StateIdle
	r.detach()
	logger.Warn(r.ctx, "generation run finished with skipped modules", "skipped", len(r.skipped))
	r.emit(r.book.Error, "")
}

func (r *run) persist() error {
	if err := r.o.repo.Save(r.ctx, r.book); err != nil {
		return err
	}
	r.saveErr = nil
	return nil
}

// storageFailure 存储失败时暂停运行并上报，resume 会先重试保存
func (r *run) storageFailure(err error) {
	r.saveErr = err
	r.state = StatePaused
	logger.Error(r.ctx, "failed to persist book during run", err)
	r.emit("Progress could not be saved; generation paused", "")
}

func (r *run) rejected(cmd command) error {
	return apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("cannot %s while %s", cmd.kind, r.state))
}

func (r *run) snapshot(msg string, stage AIStage) Event {
	stats := ComputeStats(r.book)
	ev := Event{
		Type:            EventTransition,
		BookID:          r.bookID,
		RunID:           r.id,
		State:           r.state,
		BookStatus:      r.book.Status,
		OverallProgress: r.book.Progress,
		Stats:           &stats,
		LogMessage:      msg,
		AIStage:         stage,
		Timestamp:       r.o.now(),
	}
	if r.current != nil {
		ev.CurrentModuleID = r.current.ID
		ev.CurrentModuleTitle = r.current.Title
		ev.AttemptNumber = r.attempt
	}
	if r.retry != nil {
		info := r.retry.info
		ev.RetryInfo = &info
	}
	if r.saveErr != nil {
		ev.Error = r.saveErr.Error()
	}
	return ev
}

func (r *run) emit(msg string, stage AIStage) {
	r.o.hub.Publish(r.ctx, r.snapshot(msg, stage))
}

func (r *run) emitDelta(delta string, chars int) {
	ev := Event{
		Type:            EventDelta,
		BookID:          r.bookID,
		RunID:           r.id,
		State:           r.state,
		IncrementalText: delta,
		GeneratedChars:  chars,
		OverallProgress: r.book.Progress,
		AIStage:         StageWriting,
		AttemptNumber:   r.attempt,
		Timestamp:       r.o.now(),
	}
	if r.current != nil {
		ev.CurrentModuleID = r.current.ID
		ev.CurrentModuleTitle = r.current.Title
	}
	r.o.hub.Publish(r.ctx, ev)
}
