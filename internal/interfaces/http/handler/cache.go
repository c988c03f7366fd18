package handler

import (
	"rag-answer-api/internal/application/cache"
	"rag-answer-api/internal/interfaces/http/dto"

	"github.com/gin-gonic/gin"
)

// CacheHandler 缓存运维处理器
type CacheHandler struct {
	tiered *cache.TieredCache
}

// NewCacheHandler 创建缓存运维处理器
func NewCacheHandler(tiered *cache.TieredCache) *CacheHandler {
	return &CacheHandler{tiered: tiered}
}

type invalidateRequest struct {
	// Pattern 二级缓存键模式，如 "ans:*"。一级缓存整体清空。
	Pattern string `json:"pattern" binding:"required"`
}

type invalidateResponse struct {
	Pattern string `json:"pattern"`
}

// Invalidate 缓存失效接口
// @Summary 按键模式失效缓存
// @Description 底层数据重建或模型切换后调用，两级缓存同时失效
// @Tags Cache
// @Accept json
// @Produce json
// @Param request body invalidateRequest true "失效请求"
// @Success 200 {object} dto.Response[invalidateResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/cache/invalidate [post]
func (h *CacheHandler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	if err := h.tiered.Invalidate(c.Request.Context(), req.Pattern); err != nil {
		dto.FromAppError(c, err)
		return
	}

	dto.Success(c, invalidateResponse{Pattern: req.Pattern})
}
