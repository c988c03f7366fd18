// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"io"

	"rag-answer-api/internal/application/answer"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/interfaces/http/dto"

	"github.com/gin-gonic/gin"
)

// AnswerService 问答引擎接口
type AnswerService interface {
	Answer(ctx context.Context, query entity.Query) (*entity.AnswerResult, error)
	AnswerStream(ctx context.Context, query entity.Query) (<-chan answer.StreamChunk, <-chan *entity.AnswerResult, error)
}

// AnswerHandler 问答处理器
type AnswerHandler struct {
	engine AnswerService
}

// NewAnswerHandler 创建问答处理器
func NewAnswerHandler(engine AnswerService) *AnswerHandler {
	return &AnswerHandler{engine: engine}
}

// CreateAnswer 同步问答接口
// @Summary 提交问题并等待完整回答
// @Tags Answers
// @Accept json
// @Produce json
// @Param request body dto.AnswerRequest true "问答请求"
// @Success 200 {object} dto.Response[dto.AnswerResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /v1/answers [post]
func (h *AnswerHandler) CreateAnswer(c *gin.Context) {
	var req dto.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	result, err := h.engine.Answer(c.Request.Context(), req.ToQuery(resolveUserID(c, req.UserID)))
	if err != nil {
		dto.FromAppError(c, err)
		return
	}

	dto.Success(c, dto.NewAnswerResponse(result))
}

// StreamAnswer 流式问答接口
// @Summary 提交问题并通过 SSE 逐段接收回答
// @Tags Answers
// @Accept json
// @Produce text/event-stream
// @Param request body dto.AnswerRequest true "问答请求"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/answers/stream [post]
func (h *AnswerHandler) StreamAnswer(c *gin.Context) {
	var req dto.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	chunks, final, err := h.engine.AnswerStream(c.Request.Context(), req.ToQuery(resolveUserID(c, req.UserID)))
	if err != nil {
		dto.FromAppError(c, err)
		return
	}

	// 设置 SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	index := 0

	c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// 增量通道关闭，等待完整结果
				chunks = nil
				return true
			}
			if chunk.Err != nil {
				c.SSEvent("error", gin.H{
					"message": chunk.Err.Error(),
				})
				return false
			}
			c.SSEvent("delta", gin.H{
				"content": chunk.Delta,
				"index":   index,
			})
			index++
			return true

		case result, ok := <-final:
			if !ok || result == nil {
				// 上游出错时不会产出完整结果
				return false
			}
			c.SSEvent("done", dto.NewAnswerResponse(result))
			return false

		case <-c.Request.Context().Done():
			// 客户端断开
			return false
		}
	})
}

// resolveUserID 认证启用时以 Token 注入的用户为准，否则退回请求体
func resolveUserID(c *gin.Context, fallback string) string {
	if userID := c.GetString("user_id"); userID != "" {
		return userID
	}
	return fallback
}
