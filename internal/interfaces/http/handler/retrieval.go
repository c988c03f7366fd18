package handler

import (
	"context"

	"rag-answer-api/internal/application/retrieval"
	"rag-answer-api/internal/interfaces/http/dto"

	"github.com/gin-gonic/gin"
)

// Retriever 混合检索接口
type Retriever interface {
	Retrieve(ctx context.Context, question string) (*retrieval.Context, error)
}

// RetrievalHandler 检索调试处理器
type RetrievalHandler struct {
	orchestrator Retriever
}

// NewRetrievalHandler 创建检索调试处理器
func NewRetrievalHandler(orchestrator Retriever) *RetrievalHandler {
	return &RetrievalHandler{orchestrator: orchestrator}
}

// Search 检索调试接口
// @Summary 执行混合检索并返回融合前的双路证据
// @Description 用于排查答案质量问题，不触发生成与计费
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param request body dto.RetrievalSearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.RetrievalContextResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/retrieval/search [post]
func (h *RetrievalHandler) Search(c *gin.Context) {
	var req dto.RetrievalSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	rctx, err := h.orchestrator.Retrieve(c.Request.Context(), req.Question)
	if err != nil {
		dto.FromAppError(c, err)
		return
	}

	dto.Success(c, dto.NewRetrievalContextResponse(rctx))
}
