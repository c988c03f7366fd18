// Package router 提供 HTTP 路由配置
package router

import (
	"rag-answer-api/internal/interfaces/http/handler"

	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(
	v1 *gin.RouterGroup,
	answerHandler *handler.AnswerHandler,
	usageHandler *handler.UsageHandler,
	retrievalHandler *handler.RetrievalHandler,
	cacheHandler *handler.CacheHandler,
) {
	// 问答
	answers := v1.Group("/answers")
	{
		answers.POST("", answerHandler.CreateAnswer)
		answers.POST("/stream", answerHandler.StreamAnswer) // SSE
	}

	// 用量报表
	usage := v1.Group("/usage")
	{
		usage.GET("/report", usageHandler.Report)
	}

	// 检索调试
	retrieval := v1.Group("/retrieval")
	{
		retrieval.POST("/search", retrievalHandler.Search)
	}

	// 缓存运维
	cacheGroup := v1.Group("/cache")
	{
		cacheGroup.POST("/invalidate", cacheHandler.Invalidate)
	}
}
