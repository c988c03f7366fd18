// Package entity 定义领域实体
package entity

// Turn 会话历史中的一轮
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query 一次提问的不可变输入
type Query struct {
	Question string
	UserID   string
	History  []Turn
	// DeepReasoning 调用方提示该问题需要深度推理（路由升级用）
	DeepReasoning bool
}

// Source 回答的出处片段
type Source struct {
	Content  string `json:"content"`
	SourceID string `json:"source_id"`
}

// AnswerResult 问答结果
type AnswerResult struct {
	Answer       string   `json:"answer"`
	Sources      []Source `json:"sources"`
	Confidence   float64  `json:"confidence"`
	Entities     []string `json:"entities"`
	ModelUsed    string   `json:"model_used"`
	TimestampUTC string   `json:"timestamp_utc"`
	// Cached 命中答案缓存时为 true
	Cached bool `json:"cached"`
}
