package llm

import (
	"context"
	"errors"
	"strings"

	apperrors "rag-answer-api/pkg/errors"
)

// IsTransient 判断上游错误是否值得重试。
// eino 的 OpenAI 适配器不暴露结构化状态码，只能按错误文本归类。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"), strings.Contains(msg, "service unavailable"), strings.Contains(msg, "overloaded"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "eof"):
		return true
	default:
		return false
	}
}

// classify 把上游错误映射为应用错误码
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrTimeout.WithError(err)
	}
	if IsTransient(err) {
		return apperrors.ErrUpstreamUnavailable.WithError(err)
	}
	return apperrors.ErrUpstreamRejected.WithError(err)
}
