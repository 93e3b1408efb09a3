package port

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind 归一化的调用失败类型
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindNetwork     ErrorKind = "network"
	KindProvider    ErrorKind = "provider"
	KindCancelled   ErrorKind = "cancelled"
)

// CallError 模型调用失败
type CallError struct {
	Kind    ErrorKind
	Message string
	// RetryAfter 提供商给出的重试等待提示，0 表示未提供
	RetryAfter time.Duration
	Err        error
}

func (e *CallError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Kind, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError 创建调用失败
func NewCallError(kind ErrorKind, msg string, err error) *CallError {
	return &CallError{Kind: kind, Message: msg, Err: err}
}

// AsCallError 从错误链中取出 CallError
func AsCallError(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
