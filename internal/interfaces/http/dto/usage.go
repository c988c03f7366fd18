package dto

import (
	"time"

	"rag-answer-api/internal/domain/entity"
)

// UsageReportRequest 用量报表查询参数
type UsageReportRequest struct {
	UserID string `form:"user_id"`
	// Period 快捷窗口：daily（今日）或 monthly（本月）
	Period string `form:"period" binding:"omitempty,oneof=daily monthly"`
	// From / To 为 RFC3339 时间，窗口为 [from, to)，优先于 period
	From string `form:"from"`
	To   string `form:"to"`
}

// UserCostResponse 用户成本排名条目
type UserCostResponse struct {
	UserID string  `json:"user_id"`
	Cost   float64 `json:"cost"`
}

// UsageReportResponse 用量报表响应
type UsageReportResponse struct {
	UserID            string             `json:"user_id,omitempty"`
	From              string             `json:"from"`
	To                string             `json:"to"`
	TotalCost         float64            `json:"total_cost"`
	TotalInputTokens  int64              `json:"total_input_tokens"`
	TotalOutputTokens int64              `json:"total_output_tokens"`
	RequestCount      int64              `json:"request_count"`
	CostByModel       map[string]float64 `json:"cost_by_model"`
	TopConsumers      []UserCostResponse `json:"top_consumers,omitempty"`
}

// NewUsageReportResponse 将聚合结果转换为响应对象
func NewUsageReportResponse(userID string, from, to time.Time, agg *entity.UsageAggregate) UsageReportResponse {
	consumers := make([]UserCostResponse, 0, len(agg.TopConsumers))
	for _, c := range agg.TopConsumers {
		consumers = append(consumers, UserCostResponse{UserID: c.UserID, Cost: c.Cost})
	}
	return UsageReportResponse{
		UserID:            userID,
		From:              from.UTC().Format(time.RFC3339),
		To:                to.UTC().Format(time.RFC3339),
		TotalCost:         agg.TotalCost,
		TotalInputTokens:  agg.TotalInputTokens,
		TotalOutputTokens: agg.TotalOutputTokens,
		RequestCount:      agg.RequestCount,
		CostByModel:       agg.CostByModel,
		TopConsumers:      consumers,
	}
}
