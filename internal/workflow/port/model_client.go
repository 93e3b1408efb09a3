package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelFactory 按提供商与模型返回 Eino ChatModel
type ChatModelFactory interface {
	Get(ctx context.Context, provider, model string) (model.BaseChatModel, error)
}

// InvokeOptions 单次调用参数
type InvokeOptions struct {
	Temperature *float32
	MaxTokens   *int
}

// TextStream 文本增量流
// Recv 在正常结束时返回 io.EOF，失败时返回 *CallError；调用方负责 Close
type TextStream interface {
	Recv() (string, error)
	Close()
}

// ModelClient 工作流层对模型提供商的最小依赖。
// 编排层只感知归一化后的文本流与 CallError，不解析提供商私有载荷。
type ModelClient interface {
	Provider() string
	Model() string
	Stream(ctx context.Context, msgs []*schema.Message, opts InvokeOptions) (TextStream, error)
}

// ModelClientFactory 构造 ModelClient；switch 决策通过它换用其他提供商或模型
type ModelClientFactory interface {
	Client(ctx context.Context, provider, model string) (ModelClient, error)
}
