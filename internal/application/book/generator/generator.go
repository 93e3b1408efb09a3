// Package generator 单模块内容的流式生成
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	workflowchain "pustakam-api/internal/workflow/chain"
	wfmodel "pustakam-api/internal/workflow/model"
	"pustakam-api/internal/workflow/node"
	workflowport "pustakam-api/internal/workflow/port"
	"pustakam-api/pkg/logger"
)

// Update 生成过程中的一次推送。
// 非 Final 的更新只携带 Delta；Final 更新恰好一次，携带完整内容或 Err。
type Update struct {
	Delta   string
	Final   bool
	Content string
	Err     *workflowport.CallError
}

// Config 生成器配置
type Config struct {
	// IdleTimeout 连续无数据的最长时间，<=0 表示不限制
	IdleTimeout time.Duration
	// PriorContext 是否把前一模块的结尾作为上下文
	PriorContext bool
	// PriorContextRunes 前序上下文的最大字符数
	PriorContextRunes int
}

// Generator 模块生成器，本身不做重试
type Generator struct {
	chain  *workflowchain.ModuleChain
	config Config
}

// New 创建模块生成器
func New(cfg Config) *Generator {
	if cfg.PriorContextRunes <= 0 {
		cfg.PriorContextRunes = 1500
	}
	return &Generator{
		chain:  workflowchain.NewModuleChain(),
		config: cfg,
	}
}

type recvResult struct {
	delta string
	err   error
}

// Generate 发起一次模块生成。返回的通道在 Final 更新之后关闭。
// ctx 取消后生成器等待底层调用真正结束，再推送 Cancelled 并丢弃已生成的部分内容。
func (g *Generator) Generate(ctx context.Context, client workflowport.ModelClient, in wfmodel.ModuleGenerateInput) <-chan Update {
	out := make(chan Update, 32)
	in.PriorContext = g.priorContext(in.PriorContext)
	go g.run(ctx, client, in, out)
	return out
}

func (g *Generator) priorContext(prior string) string {
	if !g.config.PriorContext {
		return ""
	}
	return node.TailByRunes(strings.TrimSpace(prior), g.config.PriorContextRunes)
}

func (g *Generator) run(ctx context.Context, client workflowport.ModelClient, in wfmodel.ModuleGenerateInput, out chan<- Update) {
	defer close(out)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := g.chain.Stream(callCtx, client, &in)
	if err != nil {
		out <- failed(g.classify(ctx, err))
		return
	}
	closeStream := sync.OnceFunc(stream.Close)
	defer closeStream()

	results := make(chan recvResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			delta, err := stream.Recv()
			select {
			case results <- recvResult{delta: delta, err: err}:
			case <-callCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// stop 取消调用并关闭流，等读协程退出后才给出终态；不响应 ctx 的流靠 Close 解除阻塞
	stop := func() {
		cancel()
		closeStream()
		<-readerDone
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if g.config.IdleTimeout > 0 {
		timer = time.NewTimer(g.config.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	var content strings.Builder
	for {
		select {
		case <-ctx.Done():
			stop()
			out <- failed(workflowport.NewCallError(workflowport.KindCancelled, "generation cancelled", ctx.Err()))
			return

		case <-idle:
			stop()
			logger.Warn(ctx, "module stream idle timeout", "module_id", in.Module.ID, "timeout", g.config.IdleTimeout)
			out <- failed(workflowport.NewCallError(workflowport.KindNetwork,
				fmt.Sprintf("no data received for %s", g.config.IdleTimeout), nil))
			return

		case r := <-results:
			if errors.Is(r.err, io.EOF) {
				text := node.CleanModuleContent(content.String())
				if text == "" {
					out <- failed(workflowport.NewCallError(workflowport.KindProvider, "provider returned empty content", nil))
					return
				}
				out <- Update{Final: true, Content: text}
				return
			}
			if r.err != nil {
				out <- failed(g.classify(ctx, r.err))
				return
			}
			if r.delta == "" {
				continue
			}
			content.WriteString(r.delta)
			if timer != nil {
				timer.Reset(g.config.IdleTimeout)
			}
			select {
			case out <- Update{Delta: r.delta}:
			case <-ctx.Done():
			}
		}
	}
}

// classify 外部取消优先于提供商返回的错误
func (g *Generator) classify(ctx context.Context, err error) *workflowport.CallError {
	if ctx.Err() != nil {
		return workflowport.NewCallError(workflowport.KindCancelled, "generation cancelled", ctx.Err())
	}
	if ce := node.ClassifyError(err); ce != nil {
		return ce
	}
	return workflowport.NewCallError(workflowport.KindProvider, "unknown generation failure", err)
}

func failed(err *workflowport.CallError) Update {
	return Update{Final: true, Err: err}
}
