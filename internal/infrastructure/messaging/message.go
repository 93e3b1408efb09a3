// Package messaging 提供基于 Redis Stream 的命令与事件通道
package messaging

import (
	"encoding/json"
	"time"

	"pustakam-api/internal/config"
	"pustakam-api/internal/domain/entity"
)

// Message 消息结构
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	BookID    string            `json:"book_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType, bookID string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Type:      msgType,
		BookID:    bookID,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata 获取元数据
func (m *Message) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Stream 流定义
type Stream string

const (
	StreamBookCommands Stream = "stream:book:commands"
	StreamBookEvents   Stream = "stream:book:events"
)

// DLQStream 获取对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

const ConsumerGroupBookWorkers ConsumerGroup = "book-workers"

// WithPrefix 为消费者组加上部署前缀
func (g ConsumerGroup) WithPrefix(prefix string) ConsumerGroup {
	if prefix == "" {
		return g
	}
	return ConsumerGroup(prefix + ":" + string(g))
}

// 命令消息类型
const (
	CommandGenerate      = "generate"
	CommandPause         = "pause"
	CommandResume        = "resume"
	CommandCancel        = "cancel"
	CommandRetryDecision = "retry_decision"
	CommandRetryFailed   = "retry_failed"
)

// EventTypeProgress 进度事件消息类型
const EventTypeProgress = "book_progress"

// BookCommandMessage 书籍运行命令
type BookCommandMessage struct {
	CommandID   string              `json:"command_id"`
	BookID      string              `json:"book_id"`
	Command     string              `json:"command"`
	Provider    string              `json:"provider,omitempty"`
	Model       string              `json:"model,omitempty"`
	Language    string              `json:"language,omitempty"`
	Preferences *entity.Preferences `json:"preferences,omitempty"`
	Decision    string              `json:"decision,omitempty"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避配置
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// BackoffFromConfig 由配置构造退避参数
func BackoffFromConfig(c config.BackoffConfig) BackoffConfig {
	return BackoffConfig{Initial: c.Initial, Max: c.Max, Multiplier: c.Multiplier}
}

// CalculateBackoff 计算退避时间
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	backoff := c.Initial
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff > c.Max {
			backoff = c.Max
			break
		}
	}
	return backoff
}
