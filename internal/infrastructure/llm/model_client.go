package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pustakam-api/internal/workflow/node"
	"pustakam-api/internal/workflow/port"
	"pustakam-api/pkg/metrics"
)

// CallLimiter 提供商调用限流
type CallLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ModelClient 将 Eino ChatModel 适配为 port.ModelClient
type ModelClient struct {
	provider string
	model    string
	chat     model.BaseChatModel
	limiter  CallLimiter
	window   time.Duration
}

// NewModelClient 创建适配器，limiter 可为空
func NewModelClient(provider, modelName string, chat model.BaseChatModel, limiter CallLimiter, window time.Duration) *ModelClient {
	return &ModelClient{
		provider: provider,
		model:    modelName,
		chat:     chat,
		limiter:  limiter,
		window:   window,
	}
}

func (c *ModelClient) Provider() string { return c.provider }

func (c *ModelClient) Model() string { return c.model }

// Stream 发起流式调用，所有失败归一化为 *port.CallError
func (c *ModelClient) Stream(ctx context.Context, msgs []*schema.Message, opts port.InvokeOptions) (port.TextStream, error) {
	if c.limiter != nil {
		ok, err := c.limiter.Allow(ctx, "llm:"+c.provider)
		// 限流器自身故障时放行，由提供商兜底
		if err == nil && !ok {
			metrics.LLMRateLimitedTotal.WithLabelValues(c.provider).Inc()
			ce := port.NewCallError(port.KindRateLimited, fmt.Sprintf("local rate limit reached for provider %s", c.provider), nil)
			ce.RetryAfter = c.window
			return nil, ce
		}
	}

	callOpts := []model.Option{model.WithModel(c.model)}
	if opts.Temperature != nil {
		callOpts = append(callOpts, model.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens != nil {
		callOpts = append(callOpts, model.WithMaxTokens(*opts.MaxTokens))
	}

	// 直接调用组件时需要自行挂载全局回调
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      c.provider,
		Type:      c.model,
		Component: components.ComponentOfChatModel,
	})
	sr, err := c.chat.Stream(ctx, msgs, callOpts...)
	if err != nil {
		return nil, node.ClassifyError(err)
	}
	return &textStream{sr: sr}, nil
}

// textStream 从消息流中提取文本增量
type textStream struct {
	sr *schema.StreamReader[*schema.Message]
}

func (s *textStream) Recv() (string, error) {
	msg, err := s.sr.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", node.ClassifyError(err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

func (s *textStream) Close() {
	s.sr.Close()
}

// ClientFactory 实现 port.ModelClientFactory
type ClientFactory struct {
	chats   *EinoFactory
	limiter CallLimiter
	window  time.Duration
}

// NewClientFactory 创建 ModelClient 工厂，limiter 可为空
func NewClientFactory(chats *EinoFactory, limiter CallLimiter, window time.Duration) *ClientFactory {
	return &ClientFactory{chats: chats, limiter: limiter, window: window}
}

// Client 返回指定 provider/model 的 ModelClient；创建失败归类为提供商错误
func (f *ClientFactory) Client(ctx context.Context, provider, modelName string) (port.ModelClient, error) {
	provider, modelName = f.chats.Resolve(provider, modelName)
	chat, err := f.chats.Get(ctx, provider, modelName)
	if err != nil {
		return nil, port.NewCallError(port.KindProvider, err.Error(), err)
	}
	return NewModelClient(provider, modelName, chat, f.limiter, f.window), nil
}
