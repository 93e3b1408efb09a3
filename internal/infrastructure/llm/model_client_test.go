package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pustakam-api/internal/workflow/port"
)

type fakeChatModel struct {
	stream  func() *schema.StreamReader[*schema.Message]
	err     error
	lastOpt *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastOpt = model.GetCommonOptions(nil, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return f.stream(), nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, error) { return false, nil }

func collect(t *testing.T, s port.TextStream) (string, error) {
	t.Helper()
	defer s.Close()
	var b strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(delta)
	}
}

func TestModelClient_StreamsDeltas(t *testing.T) {
	chat := &fakeChatModel{stream: func() *schema.StreamReader[*schema.Message] {
		return schema.StreamReaderFromArray([]*schema.Message{
			schema.AssistantMessage("Hello, ", nil),
			schema.AssistantMessage("world", nil),
		})
	}}
	c := NewModelClient("google", "gemini-2.5-flash", chat, nil, 0)
	s, err := c.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")}, port.InvokeOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := collect(t, s)
	if err != nil || text != "Hello, world" {
		t.Fatalf("got %q, %v", text, err)
	}
	if chat.lastOpt == nil || chat.lastOpt.Model == nil || *chat.lastOpt.Model != "gemini-2.5-flash" {
		t.Fatalf("model option not forwarded: %+v", chat.lastOpt)
	}
}

func TestModelClient_ClassifiesMidStreamError(t *testing.T) {
	chat := &fakeChatModel{stream: func() *schema.StreamReader[*schema.Message] {
		sr, sw := schema.Pipe[*schema.Message](2)
		go func() {
			defer sw.Close()
			sw.Send(schema.AssistantMessage("partial", nil), nil)
			sw.Send(nil, errors.New("status code: 429, please retry in 7s"))
		}()
		return sr
	}}
	c := NewModelClient("groq", "llama-3.3-70b-versatile", chat, nil, 0)
	s, err := c.Stream(context.Background(), nil, port.InvokeOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_, err = collect(t, s)
	ce, ok := port.AsCallError(err)
	if !ok || ce.Kind != port.KindRateLimited || ce.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestModelClient_StartError(t *testing.T) {
	chat := &fakeChatModel{err: errors.New("dial tcp: connection refused")}
	c := NewModelClient("mistral", "mistral-small-latest", chat, nil, 0)
	_, err := c.Stream(context.Background(), nil, port.InvokeOptions{})
	if ce, ok := port.AsCallError(err); !ok || ce.Kind != port.KindNetwork {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestModelClient_LocalRateLimit(t *testing.T) {
	c := NewModelClient("google", "gemini-2.5-flash", &fakeChatModel{}, denyLimiter{}, time.Minute)
	_, err := c.Stream(context.Background(), nil, port.InvokeOptions{})
	ce, ok := port.AsCallError(err)
	if !ok || ce.Kind != port.KindRateLimited || ce.RetryAfter != time.Minute {
		t.Fatalf("unexpected error: %#v", err)
	}
}
