// Package embedding 提供查询向量化客户端
package embedding

import (
	"context"
	"encoding/json"
	"time"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino-ext/components/embedding/openai"

	"rag-answer-api/internal/application/cache"
	"rag-answer-api/internal/application/retrieval"
	"rag-answer-api/internal/config"
	apperrors "rag-answer-api/pkg/errors"
	"rag-answer-api/pkg/metrics"
	"rag-answer-api/pkg/tracer"
)

// EinoEmbedder 基于 Eino OpenAI 适配器的向量化客户端，
// 结果经两级缓存：同一查询文本只向上游计费一次。
type EinoEmbedder struct {
	embedder einoembedding.Embedder
	cache    *cache.TieredCache
	keyer    cache.Keyer
	model    string
	ttl      time.Duration
}

var _ retrieval.Embedder = (*EinoEmbedder)(nil)

// NewEinoEmbedder 创建向量化客户端
func NewEinoEmbedder(ctx context.Context, cfg config.EmbeddingConfig, tiered *cache.TieredCache, ttl time.Duration) (*EinoEmbedder, error) {
	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.Endpoint,
		Model:      cfg.Model,
		Dimensions: &cfg.Dimension,
	})
	if err != nil {
		return nil, err
	}
	return &EinoEmbedder{
		embedder: embedder,
		cache:    tiered,
		model:    cfg.Model,
		ttl:      ttl,
	}, nil
}

// Raw 返回底层 Eino Embedder，供预热器等直接使用
func (e *EinoEmbedder) Raw() einoembedding.Embedder {
	return e.embedder
}

// EmbedQuery 向量化单条查询文本，优先命中缓存
func (e *EinoEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embedding.EmbedQuery")
	defer span.End()

	key := e.keyer.EmbeddingKey(e.model, text)
	if payload, ok := e.cache.Lookup(ctx, cache.KindEmbedding, key); ok {
		var vec []float32
		if err := json.Unmarshal(payload, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vectors, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		metrics.RetrievalBranchFailures.WithLabelValues("embedding").Inc()
		return nil, apperrors.ErrEmbeddingFailed.WithError(err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, apperrors.ErrEmbeddingFailed.WithDetail("upstream returned empty vector")
	}

	vec := make([]float32, len(vectors[0]))
	for i, f := range vectors[0] {
		vec[i] = float32(f)
	}
	if payload, err := json.Marshal(vec); err == nil {
		e.cache.Store(ctx, cache.KindEmbedding, key, payload, e.ttl)
	}
	return vec, nil
}
