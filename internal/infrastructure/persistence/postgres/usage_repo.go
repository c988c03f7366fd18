// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/domain/repository"
)

// 全局报表中 Top 消耗者的数量上限
const topConsumersLimit = 10

type UsageRecordRepository struct {
	client *Client
}

var _ repository.UsageRecordRepository = (*UsageRecordRepository)(nil)

func NewUsageRecordRepository(client *Client) *UsageRecordRepository {
	return &UsageRecordRepository{client: client}
}

func (r *UsageRecordRepository) Create(ctx context.Context, record *entity.UsageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

func (r *UsageRecordRepository) SumCost(ctx context.Context, userID string, startInclusive, endExclusive time.Time) (float64, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.SumCost")
	defer span.End()

	query := r.client.db.WithContext(ctx).Model(&entity.UsageRecord{}).
		Where("created_at >= ? AND created_at < ?", startInclusive, endExclusive)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var total float64
	if err := query.Select("COALESCE(SUM(cost),0)").Scan(&total).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to sum usage cost: %w", err)
	}
	return total, nil
}

func (r *UsageRecordRepository) Aggregate(ctx context.Context, userID string, startInclusive, endExclusive time.Time) (*entity.UsageAggregate, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Aggregate")
	defer span.End()

	base := func() *gorm.DB {
		q := r.client.db.WithContext(ctx).Model(&entity.UsageRecord{}).
			Where("created_at >= ? AND created_at < ?", startInclusive, endExclusive)
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		return q
	}

	agg := &entity.UsageAggregate{CostByModel: make(map[string]float64)}

	var totals struct {
		TotalCost         float64
		TotalInputTokens  int64
		TotalOutputTokens int64
		RequestCount      int64
	}
	if err := base().
		Select("COALESCE(SUM(cost),0) AS total_cost, COALESCE(SUM(input_tokens),0) AS total_input_tokens, COALESCE(SUM(output_tokens),0) AS total_output_tokens, COUNT(*) AS request_count").
		Scan(&totals).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	agg.TotalCost = totals.TotalCost
	agg.TotalInputTokens = totals.TotalInputTokens
	agg.TotalOutputTokens = totals.TotalOutputTokens
	agg.RequestCount = totals.RequestCount

	var byModel []struct {
		Model string
		Cost  float64
	}
	if err := base().
		Select("model, COALESCE(SUM(cost),0) AS cost").
		Group("model").
		Scan(&byModel).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate usage by model: %w", err)
	}
	for _, row := range byModel {
		agg.CostByModel[row.Model] = row.Cost
	}

	// Top 消耗者只在全局报表里有意义
	if userID == "" {
		var top []struct {
			UserID string
			Cost   float64
		}
		if err := base().
			Select("user_id, COALESCE(SUM(cost),0) AS cost").
			Group("user_id").
			Order("cost DESC").
			Limit(topConsumersLimit).
			Scan(&top).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to rank usage consumers: %w", err)
		}
		for _, row := range top {
			agg.TopConsumers = append(agg.TopConsumers, entity.UserCost{UserID: row.UserID, Cost: row.Cost})
		}
	}

	return agg, nil
}
