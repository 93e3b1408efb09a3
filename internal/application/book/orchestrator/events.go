package orchestrator

import (
	"context"
	"sync"
	"time"

	"pustakam-api/internal/domain/entity"
	workflowport "pustakam-api/internal/workflow/port"
	"pustakam-api/pkg/logger"
)

// State 编排运行状态
type State string

const (
	StateIdle         State = "idle"
	StateGenerating   State = "generating"
	StatePaused       State = "paused"
	StateWaitingRetry State = "waiting_retry"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
)

// Active 运行仍持有该书（含暂停与等待决策）
func (s State) Active() bool {
	return s == StateGenerating || s == StatePaused || s == StateWaitingRetry
}

// EventType 事件类型
type EventType string

const (
	// EventTransition 状态或模块变化，携带完整快照
	EventTransition EventType = "transition"
	// EventDelta 流式文本增量
	EventDelta EventType = "delta"
)

// AIStage 前端展示的生成阶段
type AIStage string

const (
	StageAnalyzing AIStage = "analyzing"
	StageWriting   AIStage = "writing"
	StageComplete  AIStage = "complete"
)

// RetryInfo 等待重试决策时的失败信息
type RetryInfo struct {
	ModuleID       string                 `json:"module_id"`
	ModuleTitle    string                 `json:"module_title"`
	Error          string                 `json:"error"`
	Kind           workflowport.ErrorKind `json:"kind"`
	RetryCount     int                    `json:"retry_count"`
	MaxRetries     int                    `json:"max_retries"`
	WaitTimeMs     int64                  `json:"wait_time_ms"`
	RetryAt        time.Time              `json:"retry_at"`
	CeilingReached bool                   `json:"ceiling_reached"`
}

// Event 进度事件
type Event struct {
	Type               EventType         `json:"type"`
	BookID             string            `json:"book_id"`
	RunID              string            `json:"run_id,omitempty"`
	State              State             `json:"state"`
	BookStatus         entity.BookStatus `json:"book_status,omitempty"`
	CurrentModuleID    string            `json:"current_module_id,omitempty"`
	CurrentModuleTitle string            `json:"current_module_title,omitempty"`
	AttemptNumber      int               `json:"attempt_number,omitempty"`
	IncrementalText    string            `json:"incremental_text,omitempty"`
	GeneratedChars     int               `json:"generated_chars,omitempty"`
	OverallProgress    int               `json:"overall_progress"`
	RetryInfo          *RetryInfo        `json:"retry_info,omitempty"`
	Stats              *Stats            `json:"stats,omitempty"`
	LogMessage         string            `json:"log_message,omitempty"`
	AIStage            AIStage           `json:"ai_stage,omitempty"`
	Error              string            `json:"error,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// EventSink 事件的进程外出口（如 Redis Stream）
type EventSink interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// Hub 按书分发事件；订阅者通道满时丢弃，不阻塞编排
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	last   map[string]Event
	buffer int
	sink   EventSink
}

// NewHub 创建事件中心，sink 可为空
func NewHub(buffer int, sink EventSink) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		last:   make(map[string]Event),
		buffer: buffer,
		sink:   sink,
	}
}

// Subscribe 订阅某本书的事件，立即收到最近一次状态快照
func (h *Hub) Subscribe(bookID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[bookID] == nil {
		h.subs[bookID] = make(map[chan Event]struct{})
	}
	h.subs[bookID][ch] = struct{}{}
	if ev, ok := h.last[bookID]; ok {
		ch <- ev
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[bookID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.subs, bookID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Broadcast 只在本进程内分发
func (h *Hub) Broadcast(ev Event) {
	if ev.Type == EventTransition {
		h.mu.Lock()
		h.last[ev.BookID] = ev
		h.mu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.BookID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Publish 本地分发并写入 sink
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.Broadcast(ev)
	if h.sink == nil {
		return
	}
	if err := h.sink.PublishEvent(ctx, ev); err != nil {
		logger.Warn(ctx, "failed to publish progress event", "error", err, "type", ev.Type)
	}
}

// Last 最近一次状态快照
func (h *Hub) Last(bookID string) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev, ok := h.last[bookID]
	return ev, ok
}

// Snapshots 全部书的最近状态
func (h *Hub) Snapshots() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, 0, len(h.last))
	for _, ev := range h.last {
		out = append(out, ev)
	}
	return out
}

// Forget 删除书时清理快照
func (h *Hub) Forget(bookID string) {
	h.mu.Lock()
	delete(h.last, bookID)
	h.mu.Unlock()
}
