package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appcache "rag-answer-api/internal/application/cache"
)

// 频次统计键与保留期。ZSET 成员是规范化后的问题文本，分数是出现次数。
const (
	frequencyKey       = "precompute:question_freq"
	frequencyRetention = 7 * 24 * time.Hour
)

// FrequencyCounter 基于 Redis ZSET 的问题频次统计，
// 实现 cache.FrequencyCounter
type FrequencyCounter struct {
	client *Client
}

var _ appcache.FrequencyCounter = (*FrequencyCounter)(nil)

// NewFrequencyCounter 创建频次统计器
func NewFrequencyCounter(client *Client) *FrequencyCounter {
	return &FrequencyCounter{client: client}
}

// Observe 记一次问题出现
func (f *FrequencyCounter) Observe(ctx context.Context, question string) error {
	ctx, span := tracer.Start(ctx, "frequency.Observe")
	defer span.End()

	pipe := f.client.rdb.Pipeline()
	pipe.ZIncrBy(ctx, frequencyKey, 1, question)
	pipe.Expire(ctx, frequencyKey, frequencyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Top 返回出现次数不低于 minHits 的前 n 个问题，按频次降序
func (f *FrequencyCounter) Top(ctx context.Context, n int64, minHits int64) ([]string, error) {
	ctx, span := tracer.Start(ctx, "frequency.Top",
		trace.WithAttributes(attribute.Int64("frequency.top_n", n)))
	defer span.End()

	min := "-inf"
	if minHits > 0 {
		min = strconv.FormatInt(minHits, 10)
	}
	questions, err := f.client.rdb.ZRevRangeByScore(ctx, frequencyKey, &redis.ZRangeBy{
		Min:    min,
		Max:    "+inf",
		Offset: 0,
		Count:  n,
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("frequency.result_count", len(questions)))
	return questions, nil
}
