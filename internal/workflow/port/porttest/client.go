// Package porttest 提供按脚本回放的 ModelClient，供编排层测试使用
package porttest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"

	workflowport "pustakam-api/internal/workflow/port"
)

// Attempt 一次调用的脚本
type Attempt struct {
	Chunks []string
	// Err 在全部 Chunks 之后返回
	Err error
	// StartErr 直接让 Stream 失败
	StartErr error
	// Hang 输出 Chunks 后阻塞直到 ctx 取消
	Hang bool
	// Hanging 非空时在开始阻塞前关闭
	Hanging chan struct{}
	// IgnoreCancel 阻塞时不理会 ctx，只有 Close 才能让 Recv 返回
	IgnoreCancel bool
}

// Client 按顺序回放 Attempt，脚本耗尽后返回 Fallback 内容
type Client struct {
	provider string
	model    string
	Fallback string

	mu       sync.Mutex
	attempts []Attempt
	calls    int
	messages [][]*schema.Message
}

// NewClient 创建脚本客户端
func NewClient(provider, model string, attempts ...Attempt) *Client {
	return &Client{
		provider: provider,
		model:    model,
		Fallback: "generated module content",
		attempts: attempts,
	}
}

func (c *Client) Provider() string { return c.provider }

func (c *Client) Model() string { return c.model }

// Calls 已发起的调用次数
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Messages 第 i 次调用收到的提示词
func (c *Client) Messages(i int) []*schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.messages) {
		return nil
	}
	return c.messages[i]
}

func (c *Client) Stream(ctx context.Context, msgs []*schema.Message, _ workflowport.InvokeOptions) (workflowport.TextStream, error) {
	c.mu.Lock()
	var a Attempt
	if c.calls < len(c.attempts) {
		a = c.attempts[c.calls]
	} else {
		a = Attempt{Chunks: []string{c.Fallback}}
	}
	c.calls++
	c.messages = append(c.messages, msgs)
	c.mu.Unlock()

	if a.StartErr != nil {
		return nil, a.StartErr
	}
	return &stream{ctx: ctx, attempt: a, closed: make(chan struct{})}, nil
}

type stream struct {
	ctx       context.Context
	attempt   Attempt
	next      int
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *stream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil && !s.attempt.IgnoreCancel {
		return "", err
	}
	if s.next < len(s.attempt.Chunks) {
		chunk := s.attempt.Chunks[s.next]
		s.next++
		return chunk, nil
	}
	if s.attempt.Hang {
		if s.attempt.Hanging != nil {
			close(s.attempt.Hanging)
			s.attempt.Hanging = nil
		}
		if s.attempt.IgnoreCancel {
			<-s.closed
			return "", io.ErrClosedPipe
		}
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.attempt.Err != nil {
		return "", s.attempt.Err
	}
	return "", io.EOF
}

func (s *stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Factory 按 provider 返回对应的脚本客户端
type Factory struct {
	mu      sync.Mutex
	clients map[string]*Client
	Err     error
}

// NewFactory 以 provider 为键注册客户端
func NewFactory(clients ...*Client) *Factory {
	f := &Factory{clients: make(map[string]*Client)}
	for _, c := range clients {
		f.clients[c.provider] = c
	}
	return f
}

func (f *Factory) Client(_ context.Context, provider, _ string) (workflowport.ModelClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if provider == "" {
		for _, c := range f.clients {
			return c, nil
		}
	}
	c, ok := f.clients[provider]
	if !ok {
		return nil, workflowport.NewCallError(workflowport.KindProvider, fmt.Sprintf("unknown provider %s", provider), nil)
	}
	return c, nil
}
