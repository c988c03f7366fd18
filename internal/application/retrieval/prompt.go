package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/pkg/utils"
)

const systemPrompt = `你是一个基于给定资料回答问题的助手。只依据下方提供的资料片段与已知关系作答；资料不足时明确说明无法回答，不要编造。回答末尾不需要重复引用来源。`

// topHits 按相似度分数降序取前 n 条；同分时按 SourceID 升序，保证确定性
func topHits(hits []VectorHit, n int) []VectorHit {
	sorted := make([]VectorHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// BuildPrompt 组装生成 prompt。
// 片段按分数降序编号，关系保持发现顺序。同样的检索产出必然得到
// 字节级相同的 prompt，这是答案缓存命中的前提。
func BuildPrompt(question string, history []entity.Turn, rctx *Context, maxSnippets, maxRelations int) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	hits := topHits(rctx.Hits, maxSnippets)
	if len(hits) > 0 {
		b.WriteString("## 资料片段\n")
		for i, h := range hits {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, h.SourceID, h.Content)
		}
		b.WriteString("\n")
	}

	relations := rctx.Relations
	if maxRelations > 0 && len(relations) > maxRelations {
		relations = relations[:maxRelations]
	}
	if len(relations) > 0 {
		b.WriteString("## 已知关系\n")
		for _, r := range relations {
			fmt.Fprintf(&b, "- %s %s %s\n", r.SourceName, r.Relation, r.TargetName)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("## 对话历史\n")
		for _, t := range history {
			role := "用户"
			if t.Role == "assistant" {
				role = "助手"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("## 问题\n")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

// Fingerprint 计算检索上下文的稳定指纹。
// 输入先按确定性顺序排列再做 JCS 规范化，保证同样的证据集合
// 无论到达顺序如何都落在同一指纹上。
func Fingerprint(rctx *Context, maxSnippets, maxRelations int) string {
	hits := topHits(rctx.Hits, maxSnippets)
	hitKeys := make([]string, 0, len(hits))
	for _, h := range hits {
		hitKeys = append(hitKeys, fmt.Sprintf("%s:%.6f", h.SourceID, h.Score))
	}

	relations := rctx.Relations
	if maxRelations > 0 && len(relations) > maxRelations {
		relations = relations[:maxRelations]
	}
	relKeys := make([]string, 0, len(relations))
	for _, r := range relations {
		relKeys = append(relKeys, r.SourceName+"|"+r.Relation+"|"+r.TargetName)
	}
	sort.Strings(relKeys)

	raw, err := json.Marshal(map[string]any{
		"hits":      hitKeys,
		"relations": relKeys,
	})
	if err != nil {
		raw = []byte(strings.Join(hitKeys, ";") + "#" + strings.Join(relKeys, ";"))
	}
	if canonical, cerr := jcs.Transform(raw); cerr == nil {
		raw = canonical
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// EstimateTokens 粗估文本 token 数，见 utils.EstimateTokens
func EstimateTokens(s string) int {
	return utils.EstimateTokens(s)
}
