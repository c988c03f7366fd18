package dto

import (
	"rag-answer-api/internal/application/retrieval"
)

// RetrievalSearchRequest 检索调试请求
type RetrievalSearchRequest struct {
	Question string `json:"question" binding:"required"`
}

// VectorHitResponse 向量检索命中
type VectorHitResponse struct {
	SourceID string  `json:"source_id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// RelationResponse 图谱关系边
type RelationResponse struct {
	SourceName string `json:"source_name"`
	Relation   string `json:"relation"`
	TargetName string `json:"target_name"`
}

// RetrievalContextResponse 检索调试响应，暴露融合前的双路证据
type RetrievalContextResponse struct {
	Hits       []VectorHitResponse `json:"hits"`
	Entities   []string            `json:"entities"`
	Relations  []RelationResponse  `json:"relations"`
	Confidence float64             `json:"confidence"`
	Degraded   bool                `json:"degraded"`
}

// NewRetrievalContextResponse 将检索上下文转换为响应对象
func NewRetrievalContextResponse(rctx *retrieval.Context) RetrievalContextResponse {
	hits := make([]VectorHitResponse, 0, len(rctx.Hits))
	for _, h := range rctx.Hits {
		hits = append(hits, VectorHitResponse{SourceID: h.SourceID, Content: h.Content, Score: h.Score})
	}
	relations := make([]RelationResponse, 0, len(rctx.Relations))
	for _, r := range rctx.Relations {
		relations = append(relations, RelationResponse{
			SourceName: r.SourceName,
			Relation:   r.Relation,
			TargetName: r.TargetName,
		})
	}
	return RetrievalContextResponse{
		Hits:       hits,
		Entities:   rctx.Entities,
		Relations:  relations,
		Confidence: rctx.Confidence,
		Degraded:   rctx.Degraded,
	}
}
