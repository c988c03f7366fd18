// Package service 定义跨层稳定契约
package service

import "context"

// AttemptUsage 表示一次到达生成上游的调用尝试的可计费数据。
// 说明：该结构位于 domain/service，作为跨层的稳定契约（port），
// 避免基础设施层依赖应用层实现。
type AttemptUsage struct {
	UserID string
	Model  string

	InputTokens  int
	OutputTokens int
	DurationMs   int

	// Succeeded 该次尝试是否产出了被采用的回答。
	// 失败但已计费的尝试同样要记账（保守计费策略）。
	Succeeded bool
}

// UsageRecorder 负责把每次计费尝试落入权威台账。
// 返回该次尝试的成本；实现不应阻塞生成主流程之外的重试决策。
type UsageRecorder interface {
	RecordAttempt(ctx context.Context, usage AttemptUsage) (float64, error)
}
