package book

import (
	"context"

	"pustakam-api/internal/application/book/orchestrator"
	"pustakam-api/internal/infrastructure/messaging"
	apperrors "pustakam-api/pkg/errors"
)

// CommandPublisher 命令出口
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd *messaging.BookCommandMessage) (string, error)
}

// ProgressPublisher 进度事件出口
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, bookID string, payload interface{}) (string, error)
}

// QueuedRunner 把运行命令写入 Redis Stream，由 book-worker 执行；
// 运行状态来自中继回来的事件，命令是否生效以后续事件为准
type QueuedRunner struct {
	publisher CommandPublisher
	hub       *orchestrator.Hub
}

// NewQueuedRunner 创建队列模式的运行控制
func NewQueuedRunner(publisher CommandPublisher, hub *orchestrator.Hub) *QueuedRunner {
	return &QueuedRunner{publisher: publisher, hub: hub}
}

var _ Runner = (*QueuedRunner)(nil)

func (q *QueuedRunner) publish(ctx context.Context, cmd *messaging.BookCommandMessage) error {
	if _, err := q.publisher.PublishCommand(ctx, cmd); err != nil {
		return apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue command")
	}
	return nil
}

func startCommand(kind, bookID string, opts orchestrator.StartOptions) *messaging.BookCommandMessage {
	return &messaging.BookCommandMessage{
		BookID:      bookID,
		Command:     kind,
		Provider:    opts.Provider,
		Model:       opts.Model,
		Language:    opts.Language,
		Preferences: opts.Preferences,
	}
}

func (q *QueuedRunner) Start(ctx context.Context, bookID string, opts orchestrator.StartOptions) error {
	if q.IsActive(bookID) {
		return apperrors.ErrRunActive
	}
	return q.publish(ctx, startCommand(messaging.CommandGenerate, bookID, opts))
}

func (q *QueuedRunner) Resume(ctx context.Context, bookID string, opts orchestrator.StartOptions) error {
	return q.publish(ctx, startCommand(messaging.CommandResume, bookID, opts))
}

func (q *QueuedRunner) RetryFailed(ctx context.Context, bookID string, opts orchestrator.StartOptions) error {
	if q.IsActive(bookID) {
		return apperrors.ErrRunActive
	}
	return q.publish(ctx, startCommand(messaging.CommandRetryFailed, bookID, opts))
}

func (q *QueuedRunner) Pause(ctx context.Context, bookID string) error {
	return q.publish(ctx, &messaging.BookCommandMessage{BookID: bookID, Command: messaging.CommandPause})
}

func (q *QueuedRunner) Cancel(ctx context.Context, bookID string) error {
	return q.publish(ctx, &messaging.BookCommandMessage{BookID: bookID, Command: messaging.CommandCancel})
}

func (q *QueuedRunner) SubmitRetryDecision(ctx context.Context, bookID string, d orchestrator.RetryDecision) error {
	if _, ok := orchestrator.ParseDecision(string(d.Decision)); !ok {
		return apperrors.ErrInvalidParam.WithDetail("decision must be retry, switch or skip")
	}
	return q.publish(ctx, &messaging.BookCommandMessage{
		BookID:   bookID,
		Command:  messaging.CommandRetryDecision,
		Decision: string(d.Decision),
		Provider: d.Provider,
		Model:    d.Model,
	})
}

// IsActive 依据最近一次中继事件判断
func (q *QueuedRunner) IsActive(bookID string) bool {
	ev, ok := q.hub.Last(bookID)
	return ok && ev.State.Active()
}

func (q *QueuedRunner) Snapshot(bookID string) (orchestrator.Event, bool) {
	return q.hub.Last(bookID)
}

func (q *QueuedRunner) ActiveBooks() []string {
	var ids []string
	for _, ev := range q.hub.Snapshots() {
		if ev.State.Active() {
			ids = append(ids, ev.BookID)
		}
	}
	return ids
}

func (q *QueuedRunner) Forget(bookID string) {
	q.hub.Forget(bookID)
}

// StreamSink 把编排事件写入事件流，供网关中继
type StreamSink struct {
	publisher ProgressPublisher
}

// NewStreamSink 创建事件出口
func NewStreamSink(publisher ProgressPublisher) *StreamSink {
	return &StreamSink{publisher: publisher}
}

func (s *StreamSink) PublishEvent(ctx context.Context, ev orchestrator.Event) error {
	_, err := s.publisher.PublishProgress(ctx, ev.BookID, ev)
	return err
}

// RelayHandler 把中继收到的事件投递到本地事件中心
func RelayHandler(hub *orchestrator.Hub) messaging.MessageHandler {
	return func(_ context.Context, msg *messaging.Message) error {
		var ev orchestrator.Event
		if err := msg.UnmarshalPayload(&ev); err != nil {
			return err
		}
		hub.Broadcast(ev)
		return nil
	}
}
