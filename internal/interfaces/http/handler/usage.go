package handler

import (
	"context"
	"time"

	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/interfaces/http/dto"

	"github.com/gin-gonic/gin"
)

// UsageReporter 用量报表接口
type UsageReporter interface {
	Report(ctx context.Context, userID string, from, to time.Time) (*entity.UsageAggregate, error)
}

// UsageHandler 用量报表处理器
type UsageHandler struct {
	ledger UsageReporter
}

// NewUsageHandler 创建用量报表处理器
func NewUsageHandler(ledger UsageReporter) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// Report 用量报表接口
// @Summary 查询时间窗口内的用量与成本聚合
// @Description 窗口为 [from, to)，缺省为当月月初至当前时刻；user_id 为空时返回全局报表及 Top 消耗者
// @Tags Usage
// @Produce json
// @Param user_id query string false "用户 ID"
// @Param period query string false "快捷窗口：daily 或 monthly"
// @Param from query string false "起始时间（RFC3339）"
// @Param to query string false "结束时间（RFC3339）"
// @Success 200 {object} dto.Response[dto.UsageReportResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/usage/report [get]
func (h *UsageHandler) Report(c *gin.Context) {
	var req dto.UsageReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now

	if req.Period == "daily" {
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if req.From != "" {
		t, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			dto.BadRequest(c, "invalid from time: "+err.Error())
			return
		}
		from = t.UTC()
	}
	if req.To != "" {
		t, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			dto.BadRequest(c, "invalid to time: "+err.Error())
			return
		}
		to = t.UTC()
	}
	if !from.Before(to) {
		dto.BadRequest(c, "from must be before to")
		return
	}

	agg, err := h.ledger.Report(c.Request.Context(), req.UserID, from, to)
	if err != nil {
		dto.FromAppError(c, err)
		return
	}

	dto.Success(c, dto.NewUsageReportResponse(req.UserID, from, to, agg))
}
