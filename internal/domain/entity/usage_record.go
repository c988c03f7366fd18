// Package entity 定义领域实体
package entity

import "time"

// UsageRecord 一次到达上游的生成调用的计费事实。
// 只追加，不更新；重试产生的每一次计费尝试都各记一条。
type UsageRecord struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       string    `json:"user_id" gorm:"type:varchar(64);index:idx_usage_user_time;not null"`
	Model        string    `json:"model" gorm:"type:varchar(64);not null"`
	InputTokens  int       `json:"input_tokens" gorm:"not null;default:0"`
	OutputTokens int       `json:"output_tokens" gorm:"not null;default:0"`
	Cost         float64   `json:"cost" gorm:"type:numeric(12,6);not null;default:0"`
	DurationMs   int       `json:"duration_ms" gorm:"not null;default:0"`
	Succeeded    bool      `json:"succeeded" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_usage_user_time;autoCreateTime"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// UsageAggregate 某时间窗口内的用量汇总
type UsageAggregate struct {
	TotalCost         float64            `json:"total_cost"`
	TotalInputTokens  int64              `json:"total_input_tokens"`
	TotalOutputTokens int64              `json:"total_output_tokens"`
	RequestCount      int64              `json:"request_count"`
	CostByModel       map[string]float64 `json:"cost_by_model"`
	// TopConsumers 仅在未限定单个用户时填充
	TopConsumers []UserCost `json:"top_consumers,omitempty"`
}

// UserCost 用户成本排名条目
type UserCost struct {
	UserID string  `json:"user_id"`
	Cost   float64 `json:"cost"`
}
