package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/metrics"
)

// FrequencyCounter 统计问题出现频次，由 Redis ZSET 适配器实现
type FrequencyCounter interface {
	// Observe 记一次出现
	Observe(ctx context.Context, question string) error
	// Top 返回出现次数不低于 minHits 的前 n 个问题，按频次降序
	Top(ctx context.Context, n int64, minHits int64) ([]string, error)
}

// Precomputer 周期性为高频问题预热 embedding 缓存。
// 对已缓存的问题重复运行是幂等的：命中即跳过，不会重复计费。
type Precomputer struct {
	counter  FrequencyCounter
	cache    *TieredCache
	keyer    Keyer
	embedder embedding.Embedder
	model    string
	ttl      time.Duration
	topN     int64
	minHits  int64
}

// NewPrecomputer 创建预热器。model 是 embedding 模型标识，参与缓存键派生。
func NewPrecomputer(
	counter FrequencyCounter,
	cache *TieredCache,
	embedder embedding.Embedder,
	model string,
	ttl time.Duration,
	topN, minHits int64,
) *Precomputer {
	return &Precomputer{
		counter:  counter,
		cache:    cache,
		embedder: embedder,
		model:    model,
		ttl:      ttl,
		topN:     topN,
		minHits:  minHits,
	}
}

// Observe 记录一次问题出现，供线上查询路径调用。失败只记日志。
func (p *Precomputer) Observe(ctx context.Context, question string) {
	if err := p.counter.Observe(ctx, NormalizeText(question)); err != nil {
		logger.Warn(ctx, "问题频次统计失败", "error", err.Error())
	}
}

// RunOnce 执行一轮预热：取 TopN 高频问题，逐条补齐缺失的 embedding 缓存
func (p *Precomputer) RunOnce(ctx context.Context) error {
	questions, err := p.counter.Top(ctx, p.topN, p.minHits)
	if err != nil {
		return err
	}
	for _, q := range questions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.warm(ctx, q)
	}
	return nil
}

func (p *Precomputer) warm(ctx context.Context, question string) {
	key := p.keyer.EmbeddingKey(p.model, question)
	if _, ok := p.cache.Lookup(ctx, KindEmbedding, key); ok {
		metrics.PrecomputeTotal.WithLabelValues("skipped").Inc()
		return
	}

	vectors, err := p.embedder.EmbedStrings(ctx, []string{question})
	if err != nil || len(vectors) == 0 {
		metrics.PrecomputeTotal.WithLabelValues("failed").Inc()
		logger.Warn(ctx, "预热 embedding 失败", "question", question, "error", errString(err))
		return
	}
	vec := make([]float32, len(vectors[0]))
	for i, f := range vectors[0] {
		vec[i] = float32(f)
	}
	payload, err := json.Marshal(vec)
	if err != nil {
		metrics.PrecomputeTotal.WithLabelValues("failed").Inc()
		return
	}
	p.cache.Store(ctx, KindEmbedding, key, payload, p.ttl)
	metrics.PrecomputeTotal.WithLabelValues("warmed").Inc()
}

func errString(err error) string {
	if err == nil {
		return "empty result"
	}
	return err.Error()
}
