package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"rag-answer-api/internal/domain/entity"
)

func sampleContext() *Context {
	return &Context{
		Hits: []VectorHit{
			{SourceID: "doc-2", Content: "次相关片段", Score: 0.7},
			{SourceID: "doc-1", Content: "最相关片段", Score: 0.9},
			{SourceID: "doc-3", Content: "同分片段乙", Score: 0.7},
		},
		Relations: []entity.GraphRelation{
			{SourceName: "张三", Relation: "任职于", TargetName: "某公司"},
		},
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	rctx := sampleContext()
	a := BuildPrompt("问题", nil, rctx, 5, 10)
	b := BuildPrompt("问题", nil, rctx, 5, 10)
	assert.Equal(t, a, b)
}

func TestBuildPromptOrdersByScoreDescending(t *testing.T) {
	p := BuildPrompt("问题", nil, sampleContext(), 5, 10)
	first := strings.Index(p, "最相关片段")
	second := strings.Index(p, "次相关片段")
	assert.Greater(t, second, first)
	// 同分片段按 SourceID 升序：doc-2 在 doc-3 前
	assert.Less(t, strings.Index(p, "doc-2"), strings.Index(p, "doc-3"))
}

func TestBuildPromptLimitsSnippets(t *testing.T) {
	p := BuildPrompt("问题", nil, sampleContext(), 1, 10)
	assert.Contains(t, p, "最相关片段")
	assert.NotContains(t, p, "次相关片段")
}

func TestBuildPromptIncludesHistory(t *testing.T) {
	history := []entity.Turn{
		{Role: "user", Content: "上一个问题"},
		{Role: "assistant", Content: "上一个回答"},
	}
	p := BuildPrompt("当前问题", history, sampleContext(), 5, 10)
	assert.Contains(t, p, "用户: 上一个问题")
	assert.Contains(t, p, "助手: 上一个回答")
}

func TestFingerprintStableUnderHitOrder(t *testing.T) {
	a := sampleContext()
	b := &Context{
		Hits:      []VectorHit{a.Hits[1], a.Hits[2], a.Hits[0]},
		Relations: a.Relations,
	}
	assert.Equal(t, Fingerprint(a, 5, 10), Fingerprint(b, 5, 10))
}

func TestFingerprintChangesWithEvidence(t *testing.T) {
	a := sampleContext()
	b := sampleContext()
	b.Hits[0].Score = 0.95
	assert.NotEqual(t, Fingerprint(a, 5, 10), Fingerprint(b, 5, 10))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	// 纯 CJK 按字符计
	assert.Equal(t, 4, EstimateTokens("四个汉字"))
	// 纯 ASCII 按 4 字符 1 token 向上取整
	assert.Equal(t, 3, EstimateTokens("hello world!"))
}
