package orchestrator

import (
	"time"

	"pustakam-api/internal/config"
	workflowport "pustakam-api/internal/workflow/port"
)

// Backoff 指数退避参数
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Calculate 第 failures 次连续失败后的等待时间（failures 从 1 开始）
func (b Backoff) Calculate(failures int) time.Duration {
	wait := b.Initial
	for i := 1; i < failures; i++ {
		wait = time.Duration(float64(wait) * b.Multiplier)
		if b.Max > 0 && wait > b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && wait > b.Max {
		return b.Max
	}
	return wait
}

// RetryPolicy 集中管理退避计算与重试上限
type RetryPolicy struct {
	MaxRetries  int
	EnforceWait bool
	RateLimited Backoff
	Network     Backoff
	Provider    Backoff
}

// DefaultRetryPolicy 限流 30s 起步上限 5m，网络 5s/1m，提供商 10s/2m，最多 3 次
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:  3,
		EnforceWait: true,
		RateLimited: Backoff{Initial: 30 * time.Second, Max: 5 * time.Minute, Multiplier: 2},
		Network:     Backoff{Initial: 5 * time.Second, Max: time.Minute, Multiplier: 2},
		Provider:    Backoff{Initial: 10 * time.Second, Max: 2 * time.Minute, Multiplier: 2},
	}
}

// NewRetryPolicy 由配置构造，缺省项取默认值
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	p.EnforceWait = cfg.EnforceWait
	p.RateLimited = fromConfig(cfg.RateLimited, p.RateLimited)
	p.Network = fromConfig(cfg.Network, p.Network)
	p.Provider = fromConfig(cfg.Provider, p.Provider)
	return p
}

func fromConfig(c config.BackoffConfig, def Backoff) Backoff {
	b := def
	if c.Initial > 0 {
		b.Initial = c.Initial
	}
	if c.Max > 0 {
		b.Max = c.Max
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	return b
}

// WaitFor 按失败类型计算等待时间；限流时提供商提示更长则以提示为准，但不超过上限
func (p *RetryPolicy) WaitFor(kind workflowport.ErrorKind, failures int, hint time.Duration) time.Duration {
	switch kind {
	case workflowport.KindRateLimited:
		wait := p.RateLimited.Calculate(failures)
		if hint > wait {
			wait = hint
		}
		if p.RateLimited.Max > 0 && wait > p.RateLimited.Max {
			return p.RateLimited.Max
		}
		return wait
	case workflowport.KindNetwork:
		return p.Network.Calculate(failures)
	case workflowport.KindCancelled:
		return 0
	default:
		return p.Provider.Calculate(failures)
	}
}

// CeilingReached 连续失败次数已达上限，此后只建议 switch 或 skip
func (p *RetryPolicy) CeilingReached(failures int) bool {
	return failures >= p.MaxRetries
}
