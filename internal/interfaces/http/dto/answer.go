package dto

import (
	"rag-answer-api/internal/domain/entity"
)

// TurnRequest 多轮对话中的一条历史消息
type TurnRequest struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// AnswerRequest 问答请求
type AnswerRequest struct {
	Question string        `json:"question" binding:"required"`
	History  []TurnRequest `json:"history" binding:"omitempty,max=20"`
	// UserID 仅在未启用认证时生效，启用认证后以 Token 中的用户为准
	UserID string `json:"user_id"`
	// DeepReasoning 提示本问题需要深度推理，路由时直接升级模型
	DeepReasoning bool `json:"deep_reasoning"`
}

// SourceResponse 回答出处片段
type SourceResponse struct {
	Content  string `json:"content"`
	SourceID string `json:"source_id"`
}

// AnswerResponse 问答响应
type AnswerResponse struct {
	Answer       string           `json:"answer"`
	Sources      []SourceResponse `json:"sources"`
	Confidence   float64          `json:"confidence"`
	Entities     []string         `json:"entities"`
	ModelUsed    string           `json:"model_used"`
	TimestampUTC string           `json:"timestamp_utc"`
	Cached       bool             `json:"cached"`
}

// ToQuery 将请求转换为领域查询对象
func (r *AnswerRequest) ToQuery(userID string) entity.Query {
	history := make([]entity.Turn, 0, len(r.History))
	for _, t := range r.History {
		history = append(history, entity.Turn{Role: t.Role, Content: t.Content})
	}
	return entity.Query{
		Question:      r.Question,
		UserID:        userID,
		History:       history,
		DeepReasoning: r.DeepReasoning,
	}
}

// NewAnswerResponse 将领域结果转换为响应对象
func NewAnswerResponse(result *entity.AnswerResult) AnswerResponse {
	sources := make([]SourceResponse, 0, len(result.Sources))
	for _, s := range result.Sources {
		sources = append(sources, SourceResponse{Content: s.Content, SourceID: s.SourceID})
	}
	return AnswerResponse{
		Answer:       result.Answer,
		Sources:      sources,
		Confidence:   result.Confidence,
		Entities:     result.Entities,
		ModelUsed:    result.ModelUsed,
		TimestampUTC: result.TimestampUTC,
		Cached:       result.Cached,
	}
}
