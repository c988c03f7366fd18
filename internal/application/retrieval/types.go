// Package retrieval 提供向量 + 图谱双路召回与上下文组装
package retrieval

import (
	"context"

	"rag-answer-api/internal/domain/entity"
)

// VectorHit 向量检索命中
type VectorHit struct {
	SourceID string  `json:"source_id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// VectorSearcher 向量检索端口，由 Milvus 适配器实现
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]VectorHit, error)
}

// EntityExtractor 实体抽取端口，由外部 NER 服务适配器实现
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Embedder 查询向量化端口
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Context 一次检索的完整产出，供生成与缓存键派生使用
type Context struct {
	Hits      []VectorHit           `json:"hits"`
	Entities  []string              `json:"entities"`
	Relations []entity.GraphRelation `json:"relations"`

	// Confidence 融合置信度，取值 [0,1]
	Confidence float64 `json:"confidence"`

	// Degraded 任一分支失败但另一分支可用时为 true
	Degraded bool `json:"degraded"`

	// Fingerprint 检索上下文的稳定指纹，参与答案缓存键
	Fingerprint string `json:"fingerprint"`
}

// Sources 返回用于回答引用的来源列表（与 prompt 中片段顺序一致）
func (c *Context) Sources(maxSnippets int) []entity.Source {
	hits := topHits(c.Hits, maxSnippets)
	sources := make([]entity.Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, entity.Source{
			Content:  h.Content,
			SourceID: h.SourceID,
		})
	}
	return sources
}
