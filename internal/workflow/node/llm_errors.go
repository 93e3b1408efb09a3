package node

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pustakam-api/internal/workflow/port"
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry[ _-]?(?:in|after)["':= ]*\s*(\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds?)?`)

// ClassifyError 将提供商返回的原始错误归一化为 CallError
func ClassifyError(err error) *port.CallError {
	if err == nil {
		return nil
	}
	if ce, ok := port.AsCallError(err); ok {
		return ce
	}
	if errors.Is(err, context.Canceled) {
		return port.NewCallError(port.KindCancelled, "request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return port.NewCallError(port.KindNetwork, "request timed out", err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case IsRateLimitMessage(lower):
		ce := port.NewCallError(port.KindRateLimited, msg, err)
		ce.RetryAfter = ParseRetryAfter(msg)
		return ce
	case isNetworkError(err, lower):
		return port.NewCallError(port.KindNetwork, msg, err)
	default:
		return port.NewCallError(port.KindProvider, msg, err)
	}
}

// IsRateLimitMessage 判断错误信息是否表示限流或配额耗尽
func IsRateLimitMessage(lower string) bool {
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "rate_limit"):
		return true
	case strings.Contains(lower, "429"):
		return true
	case strings.Contains(lower, "quota"), strings.Contains(lower, "resource_exhausted"):
		return true
	case strings.Contains(lower, "too many requests"):
		return true
	default:
		return false
	}
}

func isNetworkError(err error, lower string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch {
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return true
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return true
	case strings.Contains(lower, "eof"), strings.Contains(lower, "no such host"):
		return true
	case strings.Contains(lower, "status code: 502"), strings.Contains(lower, "status code: 503"), strings.Contains(lower, "status code: 504"):
		return true
	default:
		return false
	}
}

// ParseRetryAfter 从错误信息中解析 "retry in 12s" / "retry after 12" 提示
func ParseRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(v * float64(time.Millisecond))
	}
	return time.Duration(v * float64(time.Second))
}
