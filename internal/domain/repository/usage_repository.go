// Package repository 定义领域仓储接口
package repository

import (
	"context"
	"time"

	"rag-answer-api/internal/domain/entity"
)

// UsageRecordRepository 用量流水仓储（append-only）。
// 记录一经写入不再修改；并发写入不得丢失。
type UsageRecordRepository interface {
	Create(ctx context.Context, record *entity.UsageRecord) error

	// SumCost 汇总 [startInclusive, endExclusive) 窗口内的成本。
	// userID 为空时统计全局。
	SumCost(ctx context.Context, userID string, startInclusive, endExclusive time.Time) (float64, error)

	// Aggregate 汇总窗口内的用量报表。userID 为空时包含 Top 消耗者排名。
	Aggregate(ctx context.Context, userID string, startInclusive, endExclusive time.Time) (*entity.UsageAggregate, error)
}
